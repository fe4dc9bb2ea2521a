package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

const datasetRoot = "datasets"

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildDatasetFilePath returns datasets/<dataset>/<table>/part-<seq>.parquet.
func BuildDatasetFilePath(dataset, tableName string, sequence int) (string, error) {
	if err := validatePathComponent(dataset, "dataset"); err != nil {
		return "", err
	}
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	if sequence < 0 {
		return "", fmt.Errorf("sequence must be >= 0")
	}
	return path.Join(datasetRoot, dataset, tableName, fmt.Sprintf("part-%05d.parquet", sequence)), nil
}

func DatasetPrefix(dataset string) (string, error) {
	if err := validatePathComponent(dataset, "dataset"); err != nil {
		return "", err
	}
	return path.Join(datasetRoot, dataset) + "/", nil
}

// TableFromDatasetPath extracts the table component of a dataset file key.
// Keys outside the dataset or not ending in .parquet report false.
func TableFromDatasetPath(dataset, key string) (string, bool) {
	prefix, err := DatasetPrefix(dataset)
	if err != nil {
		return "", false
	}
	rest, ok := strings.CutPrefix(strings.TrimPrefix(key, "/"), prefix)
	if !ok || !strings.HasSuffix(rest, ".parquet") {
		return "", false
	}
	table, file, found := strings.Cut(rest, "/")
	if !found || file == "" || strings.Contains(file, "/") {
		return "", false
	}
	if validatePathComponent(table, "table name") != nil {
		return "", false
	}
	return table, true
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
