package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordIDDeterministic(t *testing.T) {
	t.Parallel()

	p := Path{"Marketing", "Heroes", "Simple", "Centered CTA"}
	for i := 0; i < 3; i++ {
		assert.Equal(t, "marketing/heroes/simple/centered-cta", RecordID(p))
	}
}

func TestRecordIDCollapsesRuns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path Path
		want string
	}{
		{"ampersand", Path{"Application UI", "Forms", "Sign-in & Registration", "Split screen"}, "application-ui/forms/sign-in-registration/split-screen"},
		{"parens", Path{"Ecommerce", "Components", "Product Lists", "With (inline) price"}, "ecommerce/components/product-lists/with-inline-price"},
		{"already clean", Path{"a", "b", "c", "d"}, "a/b/c/d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, RecordID(tt.path))
		})
	}
}

func TestSlug(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "plus-ui-blocks-application-ui-forms-input-groups", Slug("/plus/ui-blocks/application-ui/forms/input-groups"))
	assert.Equal(t, "sign-in-registration", Slug("Sign-in & Registration"))
	assert.Empty(t, Slug("///"))
}
