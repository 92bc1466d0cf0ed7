package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunRejectsBeforeOpeningStore(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://127.0.0.1:1/unreachable")

	assert.ErrorContains(t, run("ab!", "correct-horse"), "at least 5")

	t.Setenv("STORAGE_DRIVER", "memory")
	assert.ErrorContains(t, run("pitboss", "correct-horse"), "memory")

	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("INIT_BALANCE", "-5")
	assert.ErrorContains(t, run("pitboss", "correct-horse"), "INIT_BALANCE")
}
