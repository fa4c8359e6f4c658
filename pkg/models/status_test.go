package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategory_String(t *testing.T) {
	tests := []struct {
		category Category
		want     string
	}{
		{Category(""), "unset"},
		{CategoryPages, "pages"},
		{CategoryExternal, "external"},
		{CategoryPDFs, "pdfs"},
		{CategoryExcel, "excel"},
		{CategoryImages, "images"},
		{CategoryOther, "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.category.String())
	}
}

func TestCategory_IsValid(t *testing.T) {
	for _, c := range AllCategories {
		assert.True(t, c.IsValid(), "Category(%q).IsValid()", string(c))
	}
	assert.False(t, Category("").IsValid())
	assert.False(t, Category("videos").IsValid())
}

func TestCategory_DefaultExtension(t *testing.T) {
	tests := []struct {
		category Category
		want     string
	}{
		{CategoryPages, ".txt"},
		{CategoryExternal, ".txt"},
		{CategoryPDFs, ".pdf"},
		{CategoryExcel, ".xlsx"},
		{CategoryImages, ".jpg"},
		{CategoryOther, ".bin"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.category.DefaultExtension(), "Category(%q)", string(tt.category))
	}
}

func TestCategory_IsPage(t *testing.T) {
	assert.True(t, CategoryPages.IsPage())
	assert.True(t, CategoryExternal.IsPage())
	assert.False(t, CategoryPDFs.IsPage())
	assert.False(t, CategoryOther.IsPage())
}
