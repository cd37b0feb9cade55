package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LoadDir reads SQL migration units from a directory. Files are named
// <version>_<name>.up.sql with an optional matching .down.sql; a missing
// down file marks the unit irreversible.
func LoadDir(dir string) ([]Unit, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}

	units := make(map[int64]Unit)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		version, name, err := parseUnitName(strings.TrimSuffix(entry.Name(), ".up.sql"))
		if err != nil {
			return nil, fmt.Errorf("migration file %s: %w", entry.Name(), err)
		}
		if prev, ok := units[version]; ok {
			return nil, fmt.Errorf("migration version %d defined by both %s and %s", version, prev.Name, name)
		}

		upSQL, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		var downSQL []byte
		downPath := filepath.Join(dir, strings.TrimSuffix(entry.Name(), ".up.sql")+".down.sql")
		if _, err := os.Stat(downPath); err == nil {
			if downSQL, err = os.ReadFile(downPath); err != nil {
				return nil, err
			}
		}
		units[version] = SQLUnit(version, name, string(upSQL), string(downSQL))
	}

	out := make([]Unit, 0, len(units))
	for _, unit := range units {
		out = append(out, unit)
	}
	return out, nil
}

// parseUnitName splits "20240115120000_add_audit_trigger" into its
// version and name parts.
func parseUnitName(base string) (int64, string, error) {
	version, name, ok := strings.Cut(base, "_")
	if !ok {
		return 0, "", fmt.Errorf("expected <version>_<name>, got %q", base)
	}
	v, err := strconv.ParseInt(version, 10, 64)
	if err != nil || v <= 0 {
		return 0, "", fmt.Errorf("invalid version prefix %q", version)
	}
	return v, name, nil
}
