package matrix

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
)

func taxonomy() []domain.Tag {
	return []domain.Tag{
		{
			Name:        "UI",
			Description: "User interface",
			Subtags: []domain.Subtag{
				{Name: "Forms", Description: "Form builders"},
				{Name: "Themes"},
			},
		},
		{
			Name:        "Infra",
			Description: "Infrastructure",
		},
	}
}

func feature(time string, tags ...domain.FeatureTag) domain.Feature {
	return domain.Feature{Title: "f", Time: time, Tags: tags}
}

func TestFlattenTags(t *testing.T) {
	rows := FlattenTags(taxonomy())
	require.Len(t, rows, 3)

	assert.Equal(t, domain.TagRow{
		PrimaryTag:           "UI",
		SecondaryTag:         "Forms",
		PrimaryDescription:   "User interface",
		SecondaryDescription: "Form builders",
	}, rows[0])
	assert.Equal(t, "Themes", rows[1].SecondaryTag)

	// Leaf tag gets the synthetic "Other" row with duplicated description.
	assert.Equal(t, domain.TagRow{
		PrimaryTag:           "Infra",
		SecondaryTag:         "Other",
		PrimaryDescription:   "Infrastructure",
		SecondaryDescription: "Infrastructure",
	}, rows[2])
}

func TestFlattenTagsRowCount(t *testing.T) {
	tags := []domain.Tag{
		{Name: "A", Subtags: []domain.Subtag{{Name: "a1"}, {Name: "a2"}, {Name: "a3"}}},
		{Name: "B"},
		{Name: "C", Subtags: []domain.Subtag{{Name: "c1"}}},
	}
	rows := FlattenTags(tags)
	require.Len(t, rows, 5) // sum of max(1, len(subtags))

	// Input tag order then input subtag order.
	var got []string
	for _, row := range rows {
		got = append(got, row.PrimaryTag+"/"+row.SecondaryTag)
	}
	assert.Equal(t, []string{"A/a1", "A/a2", "A/a3", "B/Other", "C/c1"}, got)
}

func TestFlattenTagsEmpty(t *testing.T) {
	assert.Empty(t, FlattenTags(nil))
}

func TestProductHasTag(t *testing.T) {
	p := domain.Product{
		Name: "acme",
		Features: []domain.Feature{
			feature("2024-01-01", domain.FeatureTag{
				Name:    "UI",
				Subtags: []domain.SubtagRef{{Name: "Forms"}},
			}),
			feature("2024-02-01", domain.FeatureTag{Name: "Infra"}),
		},
	}

	assert.True(t, ProductHasTag(p, "UI", "Forms"))
	assert.False(t, ProductHasTag(p, "UI", "Themes"))
	assert.False(t, ProductHasTag(p, "UI", "Other")) // has subtags, so no Other match
	assert.True(t, ProductHasTag(p, "Infra", "Other"))
	assert.False(t, ProductHasTag(p, "Infra", "Forms"))
	assert.False(t, ProductHasTag(p, "Nope", "Other"))
}

func TestProductHasTagMalformedTags(t *testing.T) {
	// Raw data with "None" and garbage tags fields must decode to zero tags
	// and never make the model functions unhappy.
	raw := `{"name":"p","url":"","features":[
		{"title":"a","description":"","time":"2024-01-01","tags":"None"},
		{"title":"b","description":"","time":"2024-01-02","tags":{"bogus":1}},
		{"title":"c","description":"","time":"2024-01-03"}
	]}`
	var p domain.Product
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	require.Len(t, p.Features, 3)

	assert.False(t, ProductHasTag(p, "UI", "Forms"))
	assert.Empty(t, ProductTagFeatures(p, "UI", "Forms"))
	assert.Empty(t, TagFeatures([]domain.Product{p}, "UI", "Other"))
}

func TestTagFeaturesSortedByDateDescending(t *testing.T) {
	ui := domain.FeatureTag{Name: "UI", Subtags: []domain.SubtagRef{{Name: "Forms"}}}
	products := []domain.Product{
		{Name: "one", Features: []domain.Feature{
			feature("2024-01-05", ui),
			feature("not a date", ui),
		}},
		{Name: "two", Features: []domain.Feature{
			feature("2024-03-05 some text", ui),
			feature("3/5/2024", ui),
		}},
	}

	got := TagFeatures(products, "UI", "Forms")
	require.Len(t, got, 4)

	// Both 2024-03-05 variants tie; stable sort keeps iteration order
	// (product "two" document order). Unparsable dates sink to the end.
	assert.Equal(t, "2024-03-05 some text", got[0].Feature.Time)
	assert.Equal(t, "3/5/2024", got[1].Feature.Time)
	assert.Equal(t, "2024-01-05", got[2].Feature.Time)
	assert.Equal(t, "not a date", got[3].Feature.Time)
	assert.Equal(t, "one", got[2].Product)
}

func TestParseDate(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-05", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"2024-03-05 some text", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"3/5/2024", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"12/31/2023", time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)},
		{"not a date", time.Unix(0, 0).UTC()},
		{"", time.Unix(0, 0).UTC()},
		{"March 5, 2024", time.Unix(0, 0).UTC()},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ParseDate(tc.in), "input %q", tc.in)
	}
}

func TestPrimaryTags(t *testing.T) {
	assert.Equal(t, []string{"UI", "Infra"}, PrimaryTags(taxonomy()))
	assert.Empty(t, PrimaryTags(nil))
}

func TestSubtags(t *testing.T) {
	tags := taxonomy()
	assert.Equal(t, []string{"Forms", "Themes"}, Subtags(tags, "UI"))
	assert.Equal(t, []string{"Other"}, Subtags(tags, "Infra"))
	assert.Equal(t, []string{}, Subtags(tags, "missing"))
}

func TestMatrixEndToEnd(t *testing.T) {
	tags := []domain.Tag{{Name: "UI", Subtags: []domain.Subtag{{Name: "Forms"}}}}
	tagged := domain.Product{Name: "tagged", Features: []domain.Feature{
		feature("2024-01-01", domain.FeatureTag{Name: "UI", Subtags: []domain.SubtagRef{{Name: "Forms"}}}),
	}}
	untagged := domain.Product{Name: "untagged", Features: []domain.Feature{
		feature("2024-01-01"),
	}}

	rows := FlattenTags(tags)
	require.Len(t, rows, 1)
	assert.True(t, ProductHasTag(tagged, rows[0].PrimaryTag, rows[0].SecondaryTag))
	assert.False(t, ProductHasTag(untagged, rows[0].PrimaryTag, rows[0].SecondaryTag))
}

func TestMatrixEndToEndOtherRow(t *testing.T) {
	tags := []domain.Tag{{Name: "Infra"}}
	p := domain.Product{Name: "p", Features: []domain.Feature{
		feature("2024-01-01", domain.FeatureTag{Name: "Infra", Subtags: []domain.SubtagRef{}}),
	}}

	rows := FlattenTags(tags)
	require.Len(t, rows, 1)
	assert.Equal(t, "Other", rows[0].SecondaryTag)
	assert.True(t, ProductHasTag(p, "Infra", "Other"))
}
