package rowkey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyEquality(t *testing.T) {
	tests := []struct {
		name  string
		left  *Key
		right *Key
		equal bool
	}{
		{name: "same values", left: Of("blog", "ID", int64(1)), right: Of("blog", "ID", int64(1)), equal: true},
		{name: "integer widths normalize", left: Of("blog", int32(7)), right: Of("blog", int64(7)), equal: true},
		{name: "different values", left: Of("blog", "ID", int64(1)), right: Of("blog", "ID", int64(2)), equal: false},
		{name: "different counts", left: Of("a", "b"), right: Of("a", "b", nil), equal: false},
		{name: "string vs bytes", left: Of("k", "1"), right: Of("k", []byte("1")), equal: false},
		{name: "string boundaries", left: Of("ab", "c"), right: Of("a", "bc"), equal: false},
		{name: "times in different zones", left: Of("t", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)), right: Of("t", time.Date(2024, 1, 1, 13, 0, 0, 0, time.FixedZone("x", 3600))), equal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, tt.left.Equal(tt.right))
			assert.Equal(t, tt.equal, tt.right.Equal(tt.left))
			if tt.equal {
				assert.Equal(t, tt.left.Hash(), tt.right.Hash())
				assert.Equal(t, tt.left.Canonical(), tt.right.Canonical())
			}
		})
	}
}

func TestNullNeverEqual(t *testing.T) {
	assert.False(t, Null.Equal(Null))
	assert.False(t, Null.Equal(Of("a", "b")))
	assert.False(t, Of("a", "b").Equal(Null))
	assert.True(t, Null.IsNull())

	Null.Update("x")
	assert.Equal(t, 0, Null.Count())
	assert.Same(t, Null, Null.Clone())
}

func TestCombine(t *testing.T) {
	row := Of("author", "id", int64(1))
	parent := Of("blog", "id", int64(10))

	combined := Combine(row, parent)
	assert.False(t, combined.IsNull())
	assert.Equal(t, 4, combined.Count())
	assert.True(t, combined.Equal(Combine(Of("author", "id", int64(1)), Of("blog", "id", int64(10)))))
	assert.False(t, combined.Equal(Combine(row, Of("blog", "id", int64(11)))))
	assert.Equal(t, 3, row.Count(), "combine must not mutate its inputs")

	assert.True(t, Combine(row, Of("blog")).IsNull())
	assert.True(t, Combine(Of("author"), parent).IsNull())
	assert.True(t, Combine(row, Null).IsNull())
	assert.True(t, Combine(Null, parent).IsNull())
}

func TestCloneIsIndependent(t *testing.T) {
	k := Of("a", "b")
	c := k.Clone()
	c.Update("c")
	assert.Equal(t, 2, k.Count())
	assert.Equal(t, 3, c.Count())
	assert.False(t, k.Equal(c))
}
