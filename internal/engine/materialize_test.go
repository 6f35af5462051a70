package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resultmap/internal/maperr"
	"resultmap/internal/mapping"
	"resultmap/internal/reflectx"
	"resultmap/internal/testutil/fakerows"
)

type Car struct {
	ID    int64
	Doors int
}

type Truck struct {
	ID      int64
	Payload int
}

type Point struct {
	X, Y int
}

type Pair struct {
	Name  string
	Count int
}

func authorMap(bindings ...mapping.Binding) *mapping.ResultMap {
	if len(bindings) == 0 {
		bindings = []mapping.Binding{{Property: "ID", Column: "id", ID: true}}
	}
	return &mapping.ResultMap{ID: "author", Type: reflect.TypeFor[Author](), Bindings: bindings}
}

func authorRows() *fakerows.Rows {
	return fakerows.Single([]string{"id", "username"},
		[]any{int64(1), "ann"},
		[]any{int64(2), "bob"},
		[]any{int64(3), "cid"},
		[]any{int64(4), "dee"},
		[]any{int64(5), "eve"},
	)
}

func selectAuthors() Statement {
	return Statement{ID: "selectAuthors", ResultMaps: []string{"author"}}
}

func TestResolveEffectiveMapping(t *testing.T) {
	vehicle := &mapping.ResultMap{
		ID:   "vehicle",
		Type: reflect.TypeFor[map[string]any](),
		Discriminator: &mapping.Discriminator{
			Column: "kind",
			GoType: reflect.TypeFor[string](),
			Cases:  map[string]string{"car": "car", "truck": "truck"},
		},
	}
	car := &mapping.ResultMap{ID: "car", Type: reflect.TypeFor[Car]()}
	truck := &mapping.ResultMap{ID: "truck", Type: reflect.TypeFor[Truck]()}
	plain := &mapping.ResultMap{ID: "plain", Type: reflect.TypeFor[Car]()}

	registry := newRegistry(t, vehicle, car, truck, plain)
	h := newTestHandler(registry)
	rows := func() *fakerows.Rows {
		return fakerows.Single([]string{"id", "kind"},
			[]any{int64(1), "car"},
			[]any{int64(2), "truck"},
			[]any{int64(3), "boat"},
			[]any{int64(4), nil},
		)
	}
	root, _ := registry.Get("vehicle")

	tests := []struct {
		name string
		row  int
		want string
	}{
		{name: "car case", row: 0, want: "car"},
		{name: "truck case", row: 1, want: "truck"},
		{name: "unmatched value keeps the map", row: 2, want: "vehicle"},
		{name: "null value matches nothing", row: 3, want: "vehicle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := wrapperAt(t, rows(), tt.row)
			got, err := h.ResolveEffectiveMapping(w, root, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.ID)
		})
	}

	t.Run("map without discriminator is returned unchanged", func(t *testing.T) {
		p, _ := registry.Get("plain")
		got, err := h.ResolveEffectiveMapping(wrapperAt(t, rows(), 0), p, "")
		require.NoError(t, err)
		assert.Same(t, p, got)
	})
}

func TestResolveEffectiveMappingTerminates(t *testing.T) {
	self := &mapping.ResultMap{
		ID:            "self",
		Type:          reflect.TypeFor[Car](),
		Discriminator: &mapping.Discriminator{Column: "k", Cases: map[string]string{"x": "self"}},
	}
	ping := &mapping.ResultMap{
		ID:            "ping",
		Type:          reflect.TypeFor[Car](),
		Discriminator: &mapping.Discriminator{Column: "k", Cases: map[string]string{"x": "pong"}},
	}
	pong := &mapping.ResultMap{
		ID:            "pong",
		Type:          reflect.TypeFor[Car](),
		Discriminator: &mapping.Discriminator{Column: "k", Cases: map[string]string{"x": "ping", "y": "pong"}},
	}
	registry := newRegistry(t, self, ping, pong)
	h := newTestHandler(registry)

	for _, start := range []string{"self", "ping", "pong"} {
		t.Run(start, func(t *testing.T) {
			rm, _ := registry.Get(start)
			w := wrapperAt(t, fakerows.Single([]string{"k"}, []any{"x"}), 0)
			got, err := h.ResolveEffectiveMapping(w, rm, "")
			require.NoError(t, err)
			assert.Contains(t, []string{"self", "ping", "pong"}, got.ID)
		})
	}
}

func TestDiscriminatedRowsMapToCaseTypes(t *testing.T) {
	registry := newRegistry(t,
		&mapping.ResultMap{
			ID:   "vehicle",
			Type: reflect.TypeFor[map[string]any](),
			Discriminator: &mapping.Discriminator{
				Column: "kind",
				Cases:  map[string]string{"car": "car", "truck": "truck"},
			},
		},
		&mapping.ResultMap{ID: "car", Type: reflect.TypeFor[Car](), Bindings: []mapping.Binding{
			{Property: "ID", Column: "id", ID: true},
			{Property: "Doors", Column: "doors"},
		}},
		&mapping.ResultMap{ID: "truck", Type: reflect.TypeFor[Truck](), Bindings: []mapping.Binding{
			{Property: "ID", Column: "id", ID: true},
			{Property: "Payload", Column: "payload"},
		}},
	)
	rows := fakerows.Single([]string{"id", "kind", "doors", "payload"},
		[]any{int64(1), "car", int64(4), nil},
		[]any{int64(2), "truck", nil, int64(10)},
	)

	got, err := newTestHandler(registry).List(context.Background(), rows, Statement{ID: "vehicles", ResultMaps: []string{"vehicle"}}, DefaultRowBounds)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, &Car{ID: 1, Doors: 4}, got[0])
	assert.Equal(t, &Truck{ID: 2, Payload: 10}, got[1])
}

func TestAutomaticMapping(t *testing.T) {
	columns := []string{"id", "username", "favourite_section", "extra"}
	row := []any{int64(1), "ann", "poetry", "x"}

	tests := []struct {
		name     string
		settings func(*Settings)
		override mapping.AutoMapping
		want     *Author
		wantErr  error
	}{
		{
			name: "partial maps same-named columns",
			want: &Author{ID: 1, Username: "ann"},
		},
		{
			name:     "underscores are ignored when enabled",
			settings: func(s *Settings) { s.MapUnderscoreToCamelCase = true },
			want:     &Author{ID: 1, Username: "ann", FavouriteSection: "poetry"},
		},
		{
			name:     "none disables automatic mapping",
			settings: func(s *Settings) { s.AutoMapping = AutoMappingNone },
			want:     &Author{ID: 1},
		},
		{
			name:     "per-map override wins over the global setting",
			settings: func(s *Settings) { s.AutoMapping = AutoMappingNone },
			override: mapping.AutoMappingAlways,
			want:     &Author{ID: 1, Username: "ann"},
		},
		{
			name:     "failing policy rejects unknown columns",
			settings: func(s *Settings) { s.UnknownColumns = UnknownColumnFailing },
			wantErr:  maperr.ErrUnknownColumn,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := DefaultSettings()
			if tt.settings != nil {
				tt.settings(&settings)
			}
			rm := authorMap()
			rm.AutoMapping = tt.override
			h := newTestHandler(newRegistry(t, rm), WithSettings(settings))

			got, err := Collect[*Author](context.Background(), h, fakerows.Single(columns, row), selectAuthors(), DefaultRowBounds)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				var me *maperr.Error
				require.ErrorAs(t, err, &me)
				assert.Equal(t, "favourite_section", me.Column)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0])
		})
	}
}

func TestUnknownColumnWarning(t *testing.T) {
	settings := DefaultSettings()
	settings.UnknownColumns = UnknownColumnWarning
	logger, buf := bufferLogger()
	h := NewHandler(newRegistry(t, authorMap()), WithSettings(settings), WithLogger(logger))

	rows := fakerows.Single([]string{"id", "extra"}, []any{int64(1), "x"}, []any{int64(2), "y"})
	got, err := Collect[*Author](context.Background(), h, rows, selectAuthors(), DefaultRowBounds)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, buf.String(), "unknown column detected")
	assert.Contains(t, buf.String(), "column=extra")
}

func TestEmptyRows(t *testing.T) {
	rows := func() *fakerows.Rows {
		return fakerows.Single([]string{"id", "username"}, []any{nil, nil})
	}
	rm := authorMap(
		mapping.Binding{Property: "ID", Column: "id", ID: true},
		mapping.Binding{Property: "Username", Column: "username"},
	)

	got, err := newTestHandler(newRegistry(t, rm)).List(context.Background(), rows(), selectAuthors(), DefaultRowBounds)
	require.NoError(t, err)
	assert.Equal(t, []any{nil}, got)

	settings := DefaultSettings()
	settings.ReturnInstanceForEmptyRow = true
	got, err = newTestHandler(newRegistry(t, rm), WithSettings(settings)).List(context.Background(), rows(), selectAuthors(), DefaultRowBounds)
	require.NoError(t, err)
	assert.Equal(t, []any{&Author{}}, got)
}

func TestCallSettersOnNulls(t *testing.T) {
	rm := &mapping.ResultMap{ID: "row", Type: reflect.TypeFor[map[string]any]()}
	stmt := Statement{ID: "rows", ResultMaps: []string{"row"}}
	rows := func() *fakerows.Rows {
		return fakerows.Single([]string{"a", "b"}, []any{int64(1), nil})
	}

	got, err := newTestHandler(newRegistry(t, rm)).List(context.Background(), rows(), stmt, DefaultRowBounds)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"a": int64(1)}, got[0])

	settings := DefaultSettings()
	settings.CallSettersOnNulls = true
	got, err = newTestHandler(newRegistry(t, rm), WithSettings(settings)).List(context.Background(), rows(), stmt, DefaultRowBounds)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"a": int64(1), "b": nil}, got[0])
}

func TestConstructorBindings(t *testing.T) {
	factory := reflectx.NewDefaultFactory()
	require.NoError(t, factory.RegisterConstructor(func(x, y int) Point { return Point{X: x, Y: y} }))
	rm := &mapping.ResultMap{ID: "point", Type: reflect.TypeFor[Point](), Bindings: []mapping.Binding{
		{Column: "x", Constructor: true},
		{Column: "y", Constructor: true},
	}}
	rows := fakerows.Single([]string{"x", "y"},
		[]any{int64(1), int64(2)},
		[]any{nil, nil},
	)

	h := newTestHandler(newRegistry(t, rm), WithObjectFactory(factory))
	got, err := h.List(context.Background(), rows, Statement{ID: "points", ResultMaps: []string{"point"}}, DefaultRowBounds)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, &Point{X: 1, Y: 2}, got[0])
	assert.Nil(t, got[1], "all-null constructor arguments mean no object")
}

func TestConstructorSignatureInference(t *testing.T) {
	factory := reflectx.NewDefaultFactory()
	require.NoError(t, factory.RegisterConstructor(func(flag bool) *Pair { return &Pair{} }))
	require.NoError(t, factory.RegisterConstructor(func(name string, count int) *Pair {
		return &Pair{Name: name, Count: count}
	}))
	rm := &mapping.ResultMap{ID: "pair", Type: reflect.TypeFor[Pair]()}
	rows := fakerows.Single([]string{"name", "count"}, []any{"apples", int64(3)})

	h := newTestHandler(newRegistry(t, rm), WithObjectFactory(factory))
	got, err := Collect[*Pair](context.Background(), h, rows, Statement{ID: "pairs", ResultMaps: []string{"pair"}}, DefaultRowBounds)
	require.NoError(t, err)
	assert.Equal(t, []*Pair{{Name: "apples", Count: 3}}, got)
}

func TestInstantiationFailure(t *testing.T) {
	rm := &mapping.ResultMap{ID: "chan", Type: reflect.TypeFor[chan int]()}
	rows := fakerows.Single([]string{"a"}, []any{int64(1)})

	_, err := newTestHandler(newRegistry(t, rm)).List(context.Background(), rows, Statement{ID: "s", ResultMaps: []string{"chan"}}, DefaultRowBounds)
	require.ErrorIs(t, err, maperr.ErrInstantiation)
	assert.True(t, rows.Closed())
}

func TestScalarResults(t *testing.T) {
	rm := &mapping.ResultMap{ID: "count", Type: reflect.TypeFor[int64]()}
	rows := fakerows.Single([]string{"n"}, []any{int64(5)}, []any{"6"}, []any{nil})

	got, err := newTestHandler(newRegistry(t, rm)).List(context.Background(), rows, Statement{ID: "counts", ResultMaps: []string{"count"}}, DefaultRowBounds)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(5), int64(6), nil}, got)
}

func TestConversionErrorsCarryContext(t *testing.T) {
	rm := authorMap(mapping.Binding{Property: "ID", Column: "id", ID: true})
	rows := fakerows.Single([]string{"id"}, []any{"not-a-number"})

	_, err := newTestHandler(newRegistry(t, rm)).List(context.Background(), rows, selectAuthors(), DefaultRowBounds)
	require.ErrorIs(t, err, maperr.ErrConversion)
	var me *maperr.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "author", me.MappingID)
	assert.Equal(t, "id", me.Column)
	assert.Equal(t, "ID", me.Property)
}

func TestRowBounds(t *testing.T) {
	h := newTestHandler(newRegistry(t, authorMap()))
	got, err := Collect[*Author](context.Background(), h, authorRows(), selectAuthors(), RowBounds{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, int64(3), got[1].ID)
}

func TestSafeRowBoundsRejectNestedMaps(t *testing.T) {
	settings := DefaultSettings()
	settings.SafeRowBoundsEnabled = true
	rows := fakerows.Single(blogColumns)
	h := newTestHandler(newRegistry(t, blogMaps()...), WithSettings(settings))

	_, err := h.List(context.Background(), rows, Statement{ID: "blogs", ResultMaps: []string{"blog"}}, RowBounds{Limit: 1})
	require.ErrorIs(t, err, maperr.ErrConfiguration)
}

func TestConsumerCanStop(t *testing.T) {
	rows := authorRows()
	var seen []int64
	consumer := ResultHandlerFunc(func(rc *ResultContext) error {
		seen = append(seen, rc.Object().(*Author).ID)
		if rc.Count() == 2 {
			rc.Stop()
		}
		return nil
	})

	n, err := newTestHandler(newRegistry(t, authorMap())).Materialize(context.Background(), rows, selectAuthors(), DefaultRowBounds, consumer)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2}, seen)
	assert.Equal(t, 2, rows.Consumed())
	assert.True(t, rows.Closed())
}

func TestConsumerErrorsStopThePass(t *testing.T) {
	boom := errors.New("boom")
	consumer := ResultHandlerFunc(func(*ResultContext) error { return boom })

	rows := authorRows()
	n, err := newTestHandler(newRegistry(t, authorMap())).Materialize(context.Background(), rows, selectAuthors(), DefaultRowBounds, consumer)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n, "objects delivered before the failure are not rolled back")
	assert.True(t, rows.Closed())
}

func TestCursorErrorsAreResourceErrors(t *testing.T) {
	rows := authorRows()
	rows.ValueErr = errors.New("connection reset")
	rows.ValueErrAt = 2

	got, err := newTestHandler(newRegistry(t, authorMap())).List(context.Background(), rows, selectAuthors(), DefaultRowBounds)
	require.ErrorIs(t, err, maperr.ErrResource)
	assert.Nil(t, got)
	assert.True(t, rows.Closed())
}

func TestMissingResultMap(t *testing.T) {
	rows := authorRows()
	_, err := newTestHandler(newRegistry(t, authorMap())).List(context.Background(), rows, Statement{ID: "s", ResultMaps: []string{"nope"}}, DefaultRowBounds)
	require.ErrorIs(t, err, maperr.ErrConfiguration)
	assert.True(t, rows.Closed())

	rows = authorRows()
	_, err = newTestHandler(newRegistry(t, authorMap())).List(context.Background(), rows, Statement{ID: "s"}, DefaultRowBounds)
	require.ErrorIs(t, err, maperr.ErrConfiguration)
}

func TestParseBehaviors(t *testing.T) {
	auto, err := ParseAutoMappingBehavior("FULL")
	require.NoError(t, err)
	assert.Equal(t, AutoMappingFull, auto)

	auto, err = ParseAutoMappingBehavior("")
	require.NoError(t, err)
	assert.Equal(t, AutoMappingPartial, auto)

	_, err = ParseAutoMappingBehavior("sometimes")
	assert.Error(t, err)

	unknown, err := ParseUnknownColumnBehavior("warning")
	require.NoError(t, err)
	assert.Equal(t, UnknownColumnWarning, unknown)
	assert.Equal(t, "warning", unknown.String())

	_, err = ParseUnknownColumnBehavior("loud")
	assert.Error(t, err)
}
