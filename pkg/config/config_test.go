package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitIsOnceOnly(t *testing.T) {
	current.Store(nil)
	initOnce = sync.Once{}

	Init(ClusterConfig{ClusterName: "first", Version: 1})
	Init(ClusterConfig{ClusterName: "second", Version: 2})

	assert.Equal(t, "first", Get().ClusterName)
}

func TestGetPanicsBeforeInit(t *testing.T) {
	current.Store(nil)
	initOnce = sync.Once{}

	assert.Panics(t, func() { Get() })
}
