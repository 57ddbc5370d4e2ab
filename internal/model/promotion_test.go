package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPromotionTable_OrdersHighToLow(t *testing.T) {
	table, err := NewPromotionTable([]string{"1", "2", "3", "4", "5", "6", "7"})
	require.NoError(t, err)

	assert.Equal(t, "7", table.TopGrade())
	rules := table.Rules()
	require.Len(t, rules, 6)
	assert.Equal(t, PromotionRule{From: "6", To: "7"}, rules[0])
	assert.Equal(t, PromotionRule{From: "1", To: "2"}, rules[5])

	next, ok := table.Next("5")
	assert.True(t, ok)
	assert.Equal(t, "6", next)

	_, ok = table.Next("7")
	assert.False(t, ok)
}

func TestNewPromotionTable_Rejects(t *testing.T) {
	_, err := NewPromotionTable(nil)
	assert.Error(t, err)

	_, err = NewPromotionTable([]string{"1", "2", "1"})
	assert.Error(t, err)

	_, err = NewPromotionTable([]string{"1", " "})
	assert.Error(t, err)
}

func TestPromotionTable_Plan(t *testing.T) {
	table, err := NewPromotionTable([]string{"1", "2", "3"})
	require.NoError(t, err)

	plan := table.Plan([]StudentGrade{
		{ID: 1, Grade: "3"},
		{ID: 2, Grade: "2"},
		{ID: 3, Grade: "1"},
		{ID: 4, Grade: "2"},
		{ID: 5, Grade: "9"},
	})

	assert.Equal(t, []int{1}, plan.Graduate)
	assert.Equal(t, []int{5}, plan.Unmatched)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "2", plan.Steps[0].From)
	assert.Equal(t, []int{2, 4}, plan.Steps[0].StudentIDs)
	assert.Equal(t, "1", plan.Steps[1].From)
	assert.Equal(t, []int{3}, plan.Steps[1].StudentIDs)
}

func TestPromotionTable_SingleGrade(t *testing.T) {
	table, err := NewPromotionTable([]string{"12"})
	require.NoError(t, err)

	plan := table.Plan([]StudentGrade{{ID: 1, Grade: "12"}})
	assert.Equal(t, []int{1}, plan.Graduate)
	assert.Empty(t, plan.Steps)
	assert.Empty(t, table.Rules())
}
