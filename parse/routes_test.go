package parse

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitbaseline.dev/gtfs/model"
	"transitbaseline.dev/gtfs/storage"
)

func TestParseRoutes(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
		routes  []model.Route
		err     bool
	}{
		{
			"minimal_with_short_name",
			`
route_id,route_short_name,route_type
1,1,3`,
			[]model.Route{{
				ID:        "1",
				ShortName: "1",
				Type:      3,
				Color:     "FFFFFF",
			}},
			false,
		},

		{
			"minimal_with_long_name",
			`
route_id,route_long_name,route_type
1,Route One,3`,
			[]model.Route{{
				ID:       "1",
				LongName: "Route One",
				Type:     3,
				Color:    "FFFFFF",
			}},
			false,
		},

		{
			"extended route types",
			`
route_id,agency_id,route_short_name,route_long_name,route_type,route_color
504,1,504,KING,900,FF0000
29,1,29,DUFFERIN,700,
1,1,1,Line 1,400,FFCC00`,
			[]model.Route{
				{
					ID:        "504",
					ShortName: "504",
					LongName:  "KING",
					Type:      model.ModeCodeStreetcar,
					Color:     "FF0000",
				},
				{
					ID:        "29",
					ShortName: "29",
					LongName:  "DUFFERIN",
					Type:      model.ModeCodeBus,
					Color:     "FFFFFF",
				},
				{
					ID:        "1",
					ShortName: "1",
					LongName:  "Line 1",
					Type:      model.ModeCodeSubway,
					Color:     "FFCC00",
				},
			},
			false,
		},

		{
			"record with missing route_id",
			`
route_id,route_short_name,route_type
r1,one,3
,two,3`,
			nil,
			true,
		},

		{
			"record with neither short nor long name",
			`
route_id,route_type
r1,3`,
			nil,
			true,
		},

		{
			"record without route_type",
			`
route_id,route_short_name
r1,one`,
			nil,
			true,
		},

		{
			"record with invalid route_type",
			`
route_id,route_short_name,route_type
r1,one,invalid`,
			nil,
			true,
		},

		{
			"record with negative route_type",
			`
route_id,route_short_name,route_type
r1,one,-1`,
			nil,
			true,
		},

		{
			"record with invalid route_color",
			`
route_id,route_short_name,route_type,route_color
r1,one,3,invalid`,
			nil,
			true,
		},

		{
			"repeated route_id",
			`
route_id,route_short_name,route_type
r1,one,3
r1,two,3`,
			nil,
			true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, err := storage.NewSQLiteStorage()
			require.NoError(t, err)
			writer, err := s.GetWriter("test")
			require.NoError(t, err)

			routeIDs, err := ParseRoutes(writer, bytes.NewBufferString(tc.content))
			if tc.err {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)

			reader, err := s.GetReader("test")
			require.NoError(t, err)
			routes, err := reader.Routes()
			require.NoError(t, err)

			// In file order
			assert.Equal(t, tc.routes, routes)

			// all route IDs should be returned
			assert.Equal(t, len(tc.routes), len(routeIDs))
			for _, route := range tc.routes {
				assert.True(t, routeIDs[route.ID])
			}
		})
	}
}
