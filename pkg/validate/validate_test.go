package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messmate/pkg/apperr"
)

type line struct {
	MealName string `json:"mealName" validate:"notblank"`
}

type request struct {
	Email  string `json:"email" validate:"required,email"`
	Orders []line `json:"orders" validate:"required,min=1,dive"`
}

func TestStructValid(t *testing.T) {
	err := Struct(request{Email: "a@vvce.ac.in", Orders: []line{{MealName: "Masala Dosa"}}})
	assert.NoError(t, err)
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(request{Email: "nope", Orders: []line{{MealName: "  "}}})
	require.Error(t, err)

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.Validation, appErr.Kind)
	assert.Contains(t, appErr.Fields, "email")
	assert.Contains(t, appErr.Fields, "orders[0].mealName")
	assert.Equal(t, "mealName cannot be blank", appErr.Fields["orders[0].mealName"])
}

func TestStructEmptyOrders(t *testing.T) {
	err := Struct(request{Email: "a@vvce.ac.in"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Validation))
}
