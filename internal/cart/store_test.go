package cart

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func product(id int64, price string) domain.Product {
	return domain.Product{ID: id, Name: "p", Price: decimal.RequireFromString(price), Stock: 10}
}

func TestStoreAddItemMergesByID(t *testing.T) {
	s := NewStore()
	adds := []int64{1, 2, 1, 3, 1, 2}
	for _, id := range adds {
		s.AddItem(product(id, "1.50"))
	}

	items := s.Items()
	require.Len(t, items, 3)
	require.Equal(t, []int64{1, 2, 3}, []int64{items[0].ID, items[1].ID, items[2].ID})
	require.Equal(t, 3, items[0].Quantity)
	require.Equal(t, 2, items[1].Quantity)
	require.Equal(t, 1, items[2].Quantity)
	require.Equal(t, len(adds), s.ItemCount())
	require.True(t, s.Total().Equal(decimal.RequireFromString("9")))
}

func TestStoreUpdateQuantityZeroEqualsRemove(t *testing.T) {
	build := func() *Store {
		s := NewStore()
		s.AddItem(product(1, "10"))
		s.AddItem(product(2, "20"))
		s.AddItem(product(2, "20"))
		return s
	}

	for _, q := range []int{0, -1, -100} {
		removed := build()
		removed.RemoveItem(2)

		updated := build()
		updated.UpdateQuantity(2, q)

		require.Equal(t, removed.Items(), updated.Items())
		require.True(t, removed.Total().Equal(updated.Total()))
	}
}

func TestStoreUpdateQuantityReplaces(t *testing.T) {
	s := NewStore()
	s.AddItem(product(1, "10"))
	s.UpdateQuantity(1, 7)

	item, ok := s.Item(1)
	require.True(t, ok)
	require.Equal(t, 7, item.Quantity)

	// Ограничение по остатку на уровне хранилища не действует.
	s.UpdateQuantity(1, 500)
	item, _ = s.Item(1)
	require.Equal(t, 500, item.Quantity)

	s.UpdateQuantity(42, 3)
	_, ok = s.Item(42)
	require.False(t, ok)
}

func TestStoreClear(t *testing.T) {
	s := NewStore()
	s.AddItem(product(1, "10"))
	s.AddItem(product(2, "5.55"))
	s.Clear()

	require.True(t, s.IsEmpty())
	require.True(t, s.Total().IsZero())
	require.Equal(t, 0, s.ItemCount())

	s.Clear()
	require.True(t, s.IsEmpty())
}

func TestStoreTotalIsOrderIndependent(t *testing.T) {
	prices := map[int64]string{1: "0.10", 2: "0.20", 3: "0.30", 4: "129.99", 5: "19.95"}
	var ops []int64
	for id := range prices {
		for i := 0; i < int(id); i++ {
			ops = append(ops, id)
		}
	}

	reference := NewStore()
	for _, id := range ops {
		reference.AddItem(product(id, prices[id]))
	}

	rng := rand.New(rand.NewPCG(1, 2))
	for round := 0; round < 20; round++ {
		shuffled := append([]int64(nil), ops...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		s := NewStore()
		for _, id := range shuffled {
			s.AddItem(product(id, prices[id]))
		}
		require.True(t, reference.Total().Equal(s.Total()), "round %d: %s != %s", round, reference.Total(), s.Total())
		require.True(t, reference.Summary().Equal(s.Summary()))
	}
}

func TestStoreKeepsPriceSnapshot(t *testing.T) {
	s := NewStore()
	s.AddItem(product(1, "10"))
	s.AddItem(product(1, "99"))

	item, ok := s.Item(1)
	require.True(t, ok)
	require.True(t, item.Price.Equal(decimal.NewFromInt(10)))
	require.True(t, s.Total().Equal(decimal.NewFromInt(20)))
}

func TestStoreItemsReturnsCopy(t *testing.T) {
	s := NewStore()
	s.AddItem(product(1, "10"))

	items := s.Items()
	items[0].Quantity = 100

	item, _ := s.Item(1)
	require.Equal(t, 1, item.Quantity)
}

func TestStoreReplace(t *testing.T) {
	s := NewStore()
	s.AddItem(product(9, "1"))

	s.Replace([]domain.CartLineItem{
		{Product: product(1, "10"), Quantity: 2},
		{Product: product(2, "5"), Quantity: 0},
		{Product: product(3, "1"), Quantity: 1},
		{Product: product(1, "10"), Quantity: 3},
		{Product: product(4, "1"), Quantity: -2},
	})

	items := s.Items()
	require.Len(t, items, 2)
	require.Equal(t, int64(1), items[0].ID)
	require.Equal(t, 5, items[0].Quantity)
	require.Equal(t, int64(3), items[1].ID)
	require.True(t, s.Total().Equal(decimal.NewFromInt(51)))
}

func TestStoreSnapshotIsConsistent(t *testing.T) {
	s := NewStore()
	s.AddItem(product(1, "60"))
	s.AddItem(product(2, "50"))

	items, summary := s.Snapshot()
	require.Len(t, items, 2)
	require.True(t, summary.Equal(s.Summary()))
	require.True(t, summary.Shipping.IsZero())
}

func TestStoreListener(t *testing.T) {
	type event struct {
		op           Operation
		lines, units int
	}
	var got []event
	s := NewStore(WithListener(ListenerFunc(func(op Operation, lines, units int) {
		got = append(got, event{op, lines, units})
	})), WithListener(nil))

	s.AddItem(product(1, "1"))
	s.AddItem(product(1, "1"))
	s.UpdateQuantity(1, 5)
	s.RemoveItem(1)
	s.Clear()

	require.Equal(t, []event{
		{OperationAdd, 1, 1},
		{OperationAdd, 1, 2},
		{OperationUpdateQuantity, 1, 5},
		{OperationRemove, 0, 0},
		{OperationClear, 0, 0},
	}, got)
}

func TestStoreConcurrentMutations(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.AddItem(product(int64(i%5+1), "1"))
				_ = s.Items()
				_ = s.Total()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 5, s.Len())
	require.Equal(t, 800, s.ItemCount())
	require.True(t, s.Total().Equal(decimal.NewFromInt(800)))
}
