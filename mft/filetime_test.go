package mft_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/n9x/mfttimeline/mft"
)

func TestIsSetFileTime(t *testing.T) {
	assert.False(t, mft.IsSetFileTime(0))
	assert.False(t, mft.IsSetFileTime(^uint64(0)))
	assert.True(t, mft.IsSetFileTime(132000000000000000))
}

func TestConvertFileTime(t *testing.T) {
	got := mft.ConvertFileTime(132000000000000000)
	assert.Equal(t, "2019-04-17T18:40:00Z", got.UTC().Format("2006-01-02T15:04:05Z"))
}
