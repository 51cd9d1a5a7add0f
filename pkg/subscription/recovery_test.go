package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecoveryQueryShapes(t *testing.T) {
	tests := []struct {
		name    string
		tracked Tracked
		want    string
	}{
		{
			name: "cursor only",
			tracked: Tracked{
				RootName: "onItems", Key: "offset", LastValue: int64(7),
				Fields: []string{"id", "offset"},
			},
			want: `subscription { onItems(offset: 7) { id, offset } }`,
		},
		{
			name: "no cursor no fixed args",
			tracked: Tracked{
				RootName: "onItems", Key: "offset",
				Fields: []string{"id", "offset"},
			},
			want: `subscription { onItems { id, offset } }`,
		},
		{
			name: "alias",
			tracked: Tracked{
				RootName: "onItems", Identity: "Feed", Alias: "Feed",
				Key: "offset", LastValue: int64(3),
				Fields: []string{"id", "offset"},
			},
			want: `subscription { Feed: onItems(offset: 3) { id, offset } }`,
		},
		{
			name: "cursor first then fixed args in order",
			tracked: Tracked{
				RootName: "onItems", Key: "offset", LastValue: int64(42),
				Fields: []string{"id", "offset"},
				FixedArgs: OrderedArgs{
					{Name: "filter", Value: "important"},
					{Name: "limit", Value: 10},
				},
			},
			want: `subscription { onItems(offset: 42, filter: "important", limit: 10) { id, offset } }`,
		},
		{
			name: "fixed args without cursor",
			tracked: Tracked{
				RootName: "onItems", Key: "offset",
				Fields: []string{"id", "offset"},
				FixedArgs: OrderedArgs{
					{Name: "filter", Value: "important"},
				},
			},
			want: `subscription { onItems(filter: "important") { id, offset } }`,
		},
		{
			name: "value kinds render as JSON",
			tracked: Tracked{
				RootName: "onItems", Key: "offset", LastValue: float64(1.5),
				Fields: []string{"offset"},
				FixedArgs: OrderedArgs{
					{Name: "urgent", Value: true},
					{Name: "cursor", Value: nil},
					{Name: "tags", Value: []interface{}{"a", "b"}},
					{Name: "range", Value: map[string]interface{}{"from": 1}},
				},
			},
			want: `subscription { onItems(offset: 1.5, urgent: true, cursor: null, tags: ["a","b"], range: {"from":1}) { offset } }`,
		},
		{
			name: "string cursor quoted",
			tracked: Tracked{
				RootName: "onEvents", Key: "cursor", LastValue: "evt-19",
				Fields: []string{"id", "cursor"},
			},
			want: `subscription { onEvents(cursor: "evt-19") { id, cursor } }`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tracked.RecoveryQuery())
		})
	}
}
