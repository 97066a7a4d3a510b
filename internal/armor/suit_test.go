package armor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestIsCompatible(t *testing.T) {
	t.Run("empty suit", func(t *testing.T) {
		assert.True(t, NewSuit(3).IsCompatible())
	})

	t.Run("nil list", func(t *testing.T) {
		s := &Suit{Version: 1}
		assert.True(t, s.IsCompatible())
		assert.Equal(t, 0, s.Repair())
	})

	t.Run("same version", func(t *testing.T) {
		s := NewSuit(1)
		s.Armor.Push(Armor{Component: Helmet(false), Version: 1})
		s.Armor.Push(Armor{Component: ArcReactor(50), Version: 1})
		assert.True(t, s.IsCompatible())
	})

	t.Run("head mismatch", func(t *testing.T) {
		s := NewSuit(1)
		s.Armor.Push(Armor{Component: Helmet(false), Version: 1})
		s.Armor.Push(Armor{Component: ArcReactor(50), Version: 2})
		assert.False(t, s.IsCompatible())
	})

	// Every record is checked, not only the head.
	t.Run("older mismatch", func(t *testing.T) {
		s := NewSuit(1)
		s.Armor.Push(Armor{Component: Helmet(false), Version: 7})
		s.Armor.Push(Armor{Component: ArcReactor(50), Version: 1})
		assert.False(t, s.IsCompatible())
	})

	t.Run("list untouched", func(t *testing.T) {
		s := NewSuit(1)
		s.Armor.Push(Armor{Component: Wifi(false), Version: 1})
		s.IsCompatible()
		assert.Equal(t, 1, s.Armor.Size())
	})
}

func TestRepairHead(t *testing.T) {
	cases := []struct {
		name string
		in   Component
		want Component
	}{
		{"left thrusters", LeftThrusters(true, 30), LeftThrusters(false, 100)},
		{"right thrusters", RightThrusters(true, 0), RightThrusters(false, 100)},
		{"left repulsor", LeftRepulsor(true, 12), LeftRepulsor(false, 100)},
		{"right repulsor", RightRepulsor(true, 99), RightRepulsor(false, 100)},
		{"chest piece", ChestPiece(true, 10), ChestPiece(false, 100)},
		{"undamaged thrusters", LeftThrusters(false, 30), LeftThrusters(false, 30)},
		{"wifi", Wifi(true), Wifi(true)},
		{"damaged helmet", Helmet(true), Helmet(true)},
		{"missiles", Missiles(2), Missiles(2)},
		{"arc reactor", ArcReactor(1), ArcReactor(1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSuit(1)
			s.Armor.Push(Armor{Component: tc.in, Version: 1})
			s.Repair()
			got, ok := s.Armor.Peek()
			require.True(t, ok)
			assert.Equal(t, Armor{Component: tc.want, Version: 1}, got)
		})
	}
}

func TestRepairChestPieceScenario(t *testing.T) {
	list := NewList()
	list.Push(Armor{Component: ChestPiece(true, 10), Version: 1})
	suit := &Suit{Armor: list, Version: 1}

	suit.Repair()

	got, ok := suit.Armor.Peek()
	require.True(t, ok)
	assert.Equal(t, Armor{Component: ChestPiece(false, 100), Version: 1}, got)
}

func TestRepairWholeList(t *testing.T) {
	s := NewSuit(2)
	s.Armor.Push(Armor{Component: RightThrusters(true, 1), Version: 1})
	s.Armor.Push(Armor{Component: Helmet(true), Version: 2})
	s.Armor.Push(Armor{Component: LeftRepulsor(true, 40), Version: 2})

	n := s.Repair()
	assert.Equal(t, 2, n)
	require.Equal(t, 3, s.Armor.Size(), "repair must not consume the suit's list")

	var got []Armor
	cursor := s.Armor.Clone()
	for {
		a, ok := cursor.Pop()
		if !ok {
			break
		}
		got = append(got, a)
	}
	assert.Equal(t, []Armor{
		{Component: LeftRepulsor(false, 100), Version: 2},
		{Component: Helmet(true), Version: 2},
		{Component: RightThrusters(false, 100), Version: 1},
	}, got)

	assert.Equal(t, 0, s.Repair(), "second pass has nothing left to fix")
}

func TestRepairVisibleThroughEarlierClone(t *testing.T) {
	s := NewSuit(1)
	s.Armor.Push(Armor{Component: ChestPiece(true, 3), Version: 1})
	snapshot := s.Armor.Clone()

	s.Repair()

	got, ok := snapshot.Peek()
	require.True(t, ok)
	assert.Equal(t, ChestPiece(false, 100), got.Component)
}

func TestConcurrentRepairAndReads(t *testing.T) {
	s := NewSuit(1)
	for i := 0; i < 100; i++ {
		s.Armor.Push(Armor{Component: LeftThrusters(true, i), Version: 1})
	}

	g, _ := errgroup.WithContext(context.Background())
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			s.Repair()
			return nil
		})
		g.Go(func() error {
			for j := 0; j < 50; j++ {
				s.IsCompatible()
				s.Armor.Peek()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.True(t, s.IsCompatible())
	assert.Equal(t, 0, s.Repair())
	assert.Equal(t, 100, s.Armor.Size())
}

func TestComponentNormalize(t *testing.T) {
	raw := Component{Kind: KindWifi, Connected: true, Damaged: true, PowerRemaining: 9, Count: 3}
	assert.Equal(t, Wifi(true), raw.Normalize())

	raw = Component{Kind: KindArcReactor, Damaged: true, PowerRemaining: 9}
	assert.Equal(t, ArcReactor(9), raw.Normalize())

	raw = Component{Kind: KindHelmet, Damaged: true, PowerRemaining: 9}
	assert.Equal(t, Helmet(true), raw.Normalize())
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("jetpack")
	assert.Error(t, err)
}
