package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	assert.Equal(t,
		"postgres://notify:p%40ss@db:5432/notify?sslmode=disable",
		DSN("db", "5432", "notify", "p@ss", "notify", "disable"))
	assert.Equal(t,
		"postgres://u:p@localhost:5432/n",
		DSN("localhost", "5432", "u", "p", "n", ""))
}
