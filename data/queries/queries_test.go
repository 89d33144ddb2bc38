package queries

import (
	"io/fs"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryHelper_EveryPathResolves(t *testing.T) {
	var paths []string
	collectQueryPaths(reflect.ValueOf(QueryHelper), &paths)
	require.NotEmpty(t, paths, "no query paths in QueryHelper found")

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			assert.NotEmpty(t, strings.TrimSpace(Get(path)), "query file %q is empty", path)
		})
	}
}

// every embedded .sql file has to be reachable from QueryHelper, forcing a 1:1 relationship
func TestQueryHelper_MatchesEmbeddedFiles(t *testing.T) {
	var paths []string
	collectQueryPaths(reflect.ValueOf(QueryHelper), &paths)

	var embedded []string
	err := fs.WalkDir(Files, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(d.Name()), ".sql") {
			embedded = append(embedded, path)
		}
		return nil
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, embedded, paths)
}

func TestGet_PanicsOnUnknownPath(t *testing.T) {
	assert.Panics(t, func() { Get("select/does_not_exist.sql") })
}

// collectQueryPaths walks the QueryHelper struct and appends every string field value to paths
func collectQueryPaths(v reflect.Value, paths *[]string) {
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)

		if field.Kind() == reflect.String {
			if s := field.String(); s != "" {
				*paths = append(*paths, s)
			}
		} else {
			collectQueryPaths(field, paths)
		}
	}
}
