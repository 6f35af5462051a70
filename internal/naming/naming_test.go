package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToFieldName(t *testing.T) {
	namer := Default()

	tests := []struct {
		input    string
		expected string
	}{
		{"user_name", "userName"},
		{"created_at", "createdAt"},
		{"id", "id"},
		{"ID", "id"},
		{"USER_PROFILE_ID", "userProfileId"},
		{"createdAt", "createdAt"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, namer.ToFieldName(tt.input))
		})
	}
}

func TestCollectionName(t *testing.T) {
	namer := Default()

	tests := []struct {
		prefix   string
		expected string
	}{
		{"post_", "posts"},
		{"PERSON_", "people"},
		{"category_", "categories"},
		{"order_item_", "orderItems"},
		{"status", "statuses"},
		{"_", ""},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			assert.Equal(t, tt.expected, namer.CollectionName(tt.prefix))
		})
	}
}

func TestAssociationName(t *testing.T) {
	namer := Default()

	assert.Equal(t, "author", namer.AssociationName("author_"))
	assert.Equal(t, "person", namer.AssociationName("people_"))
	assert.Equal(t, "category", namer.AssociationName("CATEGORIES_"))
	assert.Equal(t, "", namer.AssociationName(""))
}

func TestOverrides(t *testing.T) {
	namer := New(Config{
		Collections:  map[string]string{"Staff_": "staff"},
		Associations: map[string]string{"data": "datum"},
		Fields:       map[string]string{"USR_NM": "userName"},
	}, nil)

	assert.Equal(t, "staff", namer.CollectionName("staff_"))
	assert.Equal(t, "posts", namer.CollectionName("post_"))
	assert.Equal(t, "datum", namer.AssociationName("DATA_"))
	assert.Equal(t, "userName", namer.ToFieldName("usr_nm"))
	assert.Equal(t, "usrId", namer.ToFieldName("usr_id"))
}

func TestFold(t *testing.T) {
	assert.Equal(t, "AUTHORID", Fold("author_id", true))
	assert.Equal(t, "AUTHOR_ID", Fold("author_id", false))
	assert.Equal(t, Fold("AuthorId", true), Fold("author_id", true))
}
