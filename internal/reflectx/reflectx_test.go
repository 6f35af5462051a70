package reflectx

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type audit struct {
	CreatedBy string
	Version   int
}

type author struct {
	ID       int64
	UserName string `db:"user_name"`
	Email    *string
	Secret   string `db:"-"`
	hidden   int
}

type post struct {
	audit
	ID       int64
	Title    string
	Author   *author
	Tags     []string
	Comments []*comment
	Raw      []byte
	Extra    map[string]any
	Version  int32
}

type comment struct {
	ID   int64
	Body string
}

func TestFindProperty(t *testing.T) {
	m, err := Of(&post{})
	require.NoError(t, err)

	tests := []struct {
		name       string
		underscore bool
		want       string
		found      bool
	}{
		{"Title", false, "Title", true},
		{"TITLE", false, "Title", true},
		{"created_by", false, "", false},
		{"created_by", true, "CreatedBy", true},
		{"version", false, "Version", true},
		{"author.user_name", false, "Author.UserName", true},
		{"Author.USERNAME", false, "Author.UserName", true},
		{"author.secret", false, "", false},
		{"author.hidden", false, "", false},
		{"extra.anything", false, "Extra.anything", true},
		{"missing", true, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.FindProperty(tt.name, tt.underscore)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetterTypeAndShadowing(t *testing.T) {
	m, err := Of(&post{})
	require.NoError(t, err)

	typ, ok := m.SetterType("Version")
	require.True(t, ok)
	assert.Equal(t, reflect.TypeFor[int32](), typ, "outer field shadows the embedded one")

	typ, ok = m.SetterType("Author.Email")
	require.True(t, ok)
	assert.Equal(t, reflect.TypeFor[*string](), typ)

	assert.True(t, m.HasSetter("CreatedBy"))
	assert.False(t, m.HasSetter("Nope"))
	assert.True(t, m.IsCollection("Comments"))
	assert.True(t, m.IsCollection("Tags"))
	assert.False(t, m.IsCollection("Raw"))
	assert.False(t, m.IsCollection("Author"))
}

func TestSetAndGet(t *testing.T) {
	p := &post{}
	m, err := Of(p)
	require.NoError(t, err)

	require.NoError(t, m.Set("Title", "hello"))
	require.NoError(t, m.Set("ID", int32(5)))
	require.NoError(t, m.Set("CreatedBy", "ann"))
	require.NoError(t, m.Set("Author.UserName", "bob"))
	require.NoError(t, m.Set("Author.Email", "bob@example.com"))
	require.NoError(t, m.Set("Extra.score", 10))

	assert.Equal(t, "hello", p.Title)
	assert.Equal(t, int64(5), p.ID)
	assert.Equal(t, "ann", p.CreatedBy)
	require.NotNil(t, p.Author)
	assert.Equal(t, "bob", p.Author.UserName)
	require.NotNil(t, p.Author.Email)
	assert.Equal(t, "bob@example.com", *p.Author.Email)
	assert.Equal(t, 10, p.Extra["score"])

	v, err := m.Get("Author.UserName")
	require.NoError(t, err)
	assert.Equal(t, "bob", v)

	require.NoError(t, m.Set("Title", nil))
	assert.Equal(t, "", p.Title)

	err = m.Set("Title", 12)
	assert.Error(t, err)
	err = m.Set("Missing", 1)
	assert.True(t, errors.Is(err, ErrNoProperty))
}

func TestAppend(t *testing.T) {
	p := &post{}
	m, err := Of(p)
	require.NoError(t, err)

	require.NoError(t, m.Append("Comments", &comment{ID: 1}))
	require.NoError(t, m.Append("Comments", &comment{ID: 2}))
	require.Len(t, p.Comments, 2)
	assert.Equal(t, int64(2), p.Comments[1].ID)

	assert.Error(t, m.Append("Title", "x"))
}

func TestMapMeta(t *testing.T) {
	row := map[string]any{}
	m, err := Of(row)
	require.NoError(t, err)
	assert.True(t, m.IsMap())

	name, ok := m.FindProperty("user_name", true)
	assert.True(t, ok)
	assert.Equal(t, "user_name", name)

	typ, ok := m.SetterType("anything")
	assert.True(t, ok)
	assert.Equal(t, reflect.TypeFor[any](), typ)

	require.NoError(t, m.Set("id", int64(1)))
	require.NoError(t, m.Set("posts", []any{}))
	require.NoError(t, m.Append("posts", "a"))
	assert.Equal(t, map[string]any{"id": int64(1), "posts": []any{"a"}}, row)

	v, err := m.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestOfRejectsNonObjects(t *testing.T) {
	_, err := Of(post{})
	assert.Error(t, err)
	_, err = Of((*post)(nil))
	assert.Error(t, err)
	_, err = Of(42)
	assert.Error(t, err)
}

type shape interface{ Area() float64 }

type square struct{ Side float64 }

func (s square) Area() float64 { return s.Side * s.Side }

type point struct {
	X, Y int
}

func newPoint(x, y int) point { return point{X: x, Y: y} }

func newCheckedPoint(x int) (*point, error) {
	if x < 0 {
		return nil, errors.New("negative")
	}
	return &point{X: x}, nil
}

func TestDefaultFactory(t *testing.T) {
	f := NewDefaultFactory()

	obj, err := f.Create(reflect.TypeFor[post]())
	require.NoError(t, err)
	assert.IsType(t, &post{}, obj)

	obj, err = f.Create(reflect.TypeFor[*post]())
	require.NoError(t, err)
	assert.IsType(t, &post{}, obj)

	obj, err = f.Create(reflect.TypeFor[any]())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, obj)

	_, err = f.Create(reflect.TypeFor[shape]())
	assert.Error(t, err)
	require.NoError(t, f.RegisterImplementation(reflect.TypeFor[shape](), reflect.TypeFor[square]()))
	obj, err = f.Create(reflect.TypeFor[shape]())
	require.NoError(t, err)
	assert.IsType(t, &square{}, obj)

	assert.True(t, f.IsCollection(reflect.TypeFor[[]*post]()))
	assert.False(t, f.IsCollection(reflect.TypeFor[[]byte]()))
}

func TestDefaultFactoryConstructors(t *testing.T) {
	f := NewDefaultFactory()
	assert.True(t, f.HasDefaultConstructor(reflect.TypeFor[point]()))

	require.NoError(t, f.RegisterConstructor(newPoint))
	require.NoError(t, f.RegisterConstructor(newCheckedPoint))
	assert.Error(t, f.RegisterConstructor(42))
	assert.False(t, f.HasDefaultConstructor(reflect.TypeFor[point]()))

	ctors := f.Constructors(reflect.TypeFor[*point]())
	require.Len(t, ctors, 2)
	assert.Equal(t, []reflect.Type{reflect.TypeFor[int](), reflect.TypeFor[int]()}, ctors[0].Params())

	obj, err := ctors[0].Call([]any{int64(1), 2})
	require.NoError(t, err)
	assert.Equal(t, &point{X: 1, Y: 2}, obj)

	obj, err = ctors[1].Call([]any{nil})
	require.NoError(t, err)
	assert.Equal(t, &point{}, obj)

	_, err = ctors[1].Call([]any{-1})
	assert.EqualError(t, err, "negative")

	_, err = ctors[0].Call([]any{1})
	assert.Error(t, err)
}
