package query_test

import (
	"testing"

	"github.com/perkline/perkline/internal/apierror"
	"github.com/perkline/perkline/internal/query"
	"github.com/perkline/perkline/internal/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeList(t *testing.T) {
	tests := []struct {
		name     string
		body     request.Body
		expected []int
	}{
		{"items envelope", request.JSON([]byte(`{"items":[1,2]}`)), []int{1, 2}},
		{"data envelope", request.JSON([]byte(`{"data":[3]}`)), []int{3}},
		{"items preferred over data", request.JSON([]byte(`{"data":[3],"items":[1]}`)), []int{1}},
		{"items not an array falls through to data", request.JSON([]byte(`{"items":{"a":1},"data":[4]}`)), []int{4}},
		{"bare array", request.JSON([]byte(` [5,6] `)), []int{5, 6}},
		{"object without list", request.JSON([]byte(`{"total":0}`)), []int{}},
		{"scalar", request.JSON([]byte(`42`)), []int{}},
		{"empty body", request.Empty(), []int{}},
		{"text body", request.Text("[1]"), []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := query.NormalizeList[int](tt.body)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, list)
		})
	}
}

func TestNormalizeList_BadElements(t *testing.T) {
	list, err := query.NormalizeList[int](request.JSON([]byte(`{"items":["x"]}`)))

	assert.ErrorIs(t, err, apierror.ErrParse)
	assert.Empty(t, list)
}
