package backup

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(typeName string, pk int64) RecordEnvelope {
	return NewRecordEnvelope(typeName, IntValue(pk))
}

func labels(records []RecordEnvelope) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Type + r.PK.String()
	}
	return out
}

func TestDependencyOrderer_ParentBeforeChild(t *testing.T) {
	orderer := NewDependencyOrderer([]string{"A", "B"})

	ordered := orderer.Order([]RecordEnvelope{rec("B", 1), rec("A", 1), rec("B", 2)})

	assert.Equal(t, []string{"A1", "B1", "B2"}, labels(ordered))
}

func TestDependencyOrderer_UnlistedTypesKeepOriginalOrder(t *testing.T) {
	orderer := NewDependencyOrderer([]string{"A"})

	input := []RecordEnvelope{rec("Z", 1), rec("A", 1), rec("Y", 1), rec("Z", 2), rec("A", 2), rec("Y", 2)}
	ordered := orderer.Order(input)

	assert.Equal(t, []string{"A1", "A2", "Z1", "Y1", "Z2", "Y2"}, labels(ordered))
}

func TestDependencyOrderer_Duplicates(t *testing.T) {
	orderer := NewDependencyOrderer([]string{"A", "B"})

	first := rec("A", 1)
	first.Fields.Set("name", StringValue("first"))
	second := rec("A", 1)
	second.Fields.Set("name", StringValue("second"))

	ordered := orderer.Order([]RecordEnvelope{rec("B", 1), first, second, rec("B", 1)})

	require.Equal(t, []string{"A1", "B1"}, labels(ordered))
	name, _ := ordered[0].Fields.Get("name")
	assert.True(t, StringValue("first").Equal(name))
}

func TestDependencyOrderer_EmptyAndRepeatedPriority(t *testing.T) {
	assert.Empty(t, NewDependencyOrderer(nil).Order(nil))

	orderer := NewDependencyOrderer([]string{"A", "B", "A"})
	ordered := orderer.Order([]RecordEnvelope{rec("B", 1), rec("A", 1)})
	assert.Equal(t, []string{"A1", "B1"}, labels(ordered))
}

func TestDependencyOrderer_StableUnderPermutation(t *testing.T) {
	priority := []string{"identity.user", "customers.customer", "sales.order", "sales.order_item"}
	orderer := NewDependencyOrderer(priority)
	rank := map[string]int{}
	for i, p := range priority {
		rank[p] = i
	}

	var base []RecordEnvelope
	for i := int64(1); i <= 5; i++ {
		base = append(base,
			rec("sales.order_item", i),
			rec("customers.customer", i),
			rec("misc.note", i),
			rec("sales.order", i),
			rec("misc.tag", i),
			rec("identity.user", i),
		)
	}

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		input := make([]RecordEnvelope, len(base))
		copy(input, base)
		rng.Shuffle(len(input), func(i, j int) { input[i], input[j] = input[j], input[i] })

		ordered := orderer.Order(input)
		require.Len(t, ordered, len(input))

		// listed types never go backwards and always precede unlisted ones
		last := -1
		seenUnlisted := false
		for _, r := range ordered {
			idx, listed := rank[r.Type]
			if !listed {
				seenUnlisted = true
				continue
			}
			assert.False(t, seenUnlisted, "listed type %s after an unlisted one", r.Type)
			assert.GreaterOrEqual(t, idx, last)
			last = idx
		}

		// unlisted records keep their relative input order
		var inUnlisted, outUnlisted []string
		for _, r := range input {
			if _, listed := rank[r.Type]; !listed {
				inUnlisted = append(inUnlisted, r.Identity())
			}
		}
		for _, r := range ordered {
			if _, listed := rank[r.Type]; !listed {
				outUnlisted = append(outUnlisted, r.Identity())
			}
		}
		assert.Equal(t, inUnlisted, outUnlisted)
	}
}

func TestDependencyOrderer_ClearOrder(t *testing.T) {
	orderer := NewDependencyOrderer([]string{"A", "B", "C"})

	assert.Equal(t, []string{"B", "A"}, orderer.ClearOrder([]string{"A", "B"}))
	assert.Equal(t, []string{"C", "A"}, orderer.ClearOrder([]string{"A", "C", "A"}))
	assert.Equal(t, []string{"Y", "X", "B", "A"}, orderer.ClearOrder([]string{"X", "A", "Y", "B"}))
	assert.Empty(t, orderer.ClearOrder(nil))
}

func TestDistinctTypes(t *testing.T) {
	records := []RecordEnvelope{rec("B", 1), rec("A", 1), rec("B", 2)}
	assert.Equal(t, []string{"B", "A"}, DistinctTypes(records))
}
