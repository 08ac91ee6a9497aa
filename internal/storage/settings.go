package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	logx "yapefwd/pkg/logx"
)

// Settings keys. The names mirror the original datastore layout so a
// dump of that store can be imported verbatim.
const (
	keyContactsJSON    = "sms_contacts_json"
	keyPackagesLegacy  = "watch_packages" // legacy flat set: JSON array of strings
	keyPackagesJSON    = "watch_packages_json"
	keyLastSeenPackage = "last_seen_package"
	keyLastSeenText    = "last_seen_text"
	keyCaptureAll      = "capture_all_v2"
	keyServiceEnabled  = "service_enabled"
)

func (s *Store) getValue(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *Store) setValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

func (s *Store) getBool(ctx context.Context, key string) (bool, error) {
	v, err := s.getValue(ctx, key)
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

func (s *Store) setBool(ctx context.Context, key string, enabled bool) error {
	v := "false"
	if enabled {
		v = "true"
	}
	return s.setValue(ctx, key, v)
}

// ---- Flags ----

func (s *Store) ServiceEnabled(ctx context.Context) (bool, error) {
	return s.getBool(ctx, keyServiceEnabled)
}

func (s *Store) SetServiceEnabled(ctx context.Context, enabled bool) error {
	return s.setBool(ctx, keyServiceEnabled, enabled)
}

func (s *Store) CaptureAll(ctx context.Context) (bool, error) {
	return s.getBool(ctx, keyCaptureAll)
}

func (s *Store) SetCaptureAll(ctx context.Context, enabled bool) error {
	return s.setBool(ctx, keyCaptureAll, enabled)
}

// ---- Last-seen diagnostics ----

func (s *Store) SetLastSeen(ctx context.Context, pkg, text string) error {
	if err := s.setValue(ctx, keyLastSeenPackage, pkg); err != nil {
		return err
	}
	return s.setValue(ctx, keyLastSeenText, text)
}

func (s *Store) LastSeen(ctx context.Context) (LastSeen, error) {
	pkg, err := s.getValue(ctx, keyLastSeenPackage)
	if err != nil {
		return LastSeen{}, err
	}
	text, err := s.getValue(ctx, keyLastSeenText)
	if err != nil {
		return LastSeen{}, err
	}
	return LastSeen{Package: pkg, Text: text}, nil
}

// ---- Watched packages ----

// WatchedPackages resolves the configured package list.
//
// Two-stage decode: the structured JSON list wins; when absent, the
// legacy flat-set encoding is read (entries get an empty display
// name); when both are absent, the seeded default is returned. Decode
// failures degrade to an empty list with a warning, never an error.
func (s *Store) WatchedPackages(ctx context.Context) ([]WatchedPackage, error) {
	raw, err := s.getValue(ctx, keyPackagesJSON)
	if err != nil {
		return nil, err
	}
	legacy, err := s.getValue(ctx, keyPackagesLegacy)
	if err != nil {
		return nil, err
	}
	return s.resolvePackages(raw, legacy), nil
}

func (s *Store) resolvePackages(raw, legacy string) []WatchedPackage {
	if strings.TrimSpace(raw) != "" {
		var out []WatchedPackage
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			s.log.Warn("failed to parse packages JSON", logx.Err(err))
			return nil
		}
		return out
	}
	if strings.TrimSpace(legacy) != "" {
		var names []string
		if err := json.Unmarshal([]byte(legacy), &names); err != nil {
			s.log.Warn("failed to parse legacy package set", logx.Err(err))
			return nil
		}
		out := make([]WatchedPackage, 0, len(names))
		for _, n := range names {
			out = append(out, WatchedPackage{PackageName: n})
		}
		return out
	}
	return []WatchedPackage{{Name: DefaultPackageLabel, PackageName: DefaultPackageName}}
}

func (s *Store) savePackages(ctx context.Context, pkgs []WatchedPackage) error {
	b, err := json.Marshal(pkgs)
	if err != nil {
		return err
	}
	return s.setValue(ctx, keyPackagesJSON, string(b))
}

func (s *Store) AddWatchedPackage(ctx context.Context, pkg WatchedPackage) error {
	if strings.TrimSpace(pkg.PackageName) == "" {
		return nil
	}
	current, err := s.WatchedPackages(ctx)
	if err != nil {
		return err
	}
	for _, p := range current {
		if p.PackageName == pkg.PackageName {
			return s.savePackages(ctx, current)
		}
	}
	return s.savePackages(ctx, append(current, pkg))
}

func (s *Store) UpdateWatchedPackage(ctx context.Context, oldPackageName string, updated WatchedPackage) error {
	if strings.TrimSpace(updated.PackageName) == "" {
		return nil
	}
	current, err := s.WatchedPackages(ctx)
	if err != nil {
		return err
	}
	for i, p := range current {
		if p.PackageName == oldPackageName {
			current[i] = updated
			break
		}
	}
	return s.savePackages(ctx, current)
}

func (s *Store) RemoveWatchedPackage(ctx context.Context, packageName string) error {
	current, err := s.WatchedPackages(ctx)
	if err != nil {
		return err
	}
	kept := current[:0]
	for _, p := range current {
		if p.PackageName != packageName {
			kept = append(kept, p)
		}
	}
	return s.savePackages(ctx, kept)
}

// ---- Destinations ----

// ErrInvalidAddress rejects destination addresses that are neither a
// phone-style number nor a telegram chat id.
var ErrInvalidAddress = errors.New("invalid destination address")

// Phone form "+51987654321" or a chat id, negative for groups.
var addressRe = regexp.MustCompile(`^(\+[0-9]{7,15}|-?[0-9]{5,16})$`)

func (s *Store) Destinations(ctx context.Context) ([]Destination, error) {
	raw, err := s.getValue(ctx, keyContactsJSON)
	if err != nil {
		return nil, err
	}
	return s.decodeDestinations(raw), nil
}

func (s *Store) decodeDestinations(raw string) []Destination {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []Destination
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		s.log.Warn("failed to parse destinations JSON", logx.Err(err))
		return nil
	}
	return out
}

func (s *Store) saveDestinations(ctx context.Context, dests []Destination) error {
	b, err := json.Marshal(dests)
	if err != nil {
		return err
	}
	return s.setValue(ctx, keyContactsJSON, string(b))
}

func (s *Store) AddDestination(ctx context.Context, d Destination) error {
	d.Address = strings.TrimSpace(d.Address)
	if !addressRe.MatchString(d.Address) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, d.Address)
	}
	current, err := s.Destinations(ctx)
	if err != nil {
		return err
	}
	for _, c := range current {
		if c.Address == d.Address {
			return s.saveDestinations(ctx, current)
		}
	}
	return s.saveDestinations(ctx, append(current, d))
}

func (s *Store) RemoveDestination(ctx context.Context, address string) error {
	current, err := s.Destinations(ctx)
	if err != nil {
		return err
	}
	kept := current[:0]
	for _, c := range current {
		if c.Address != address {
			kept = append(kept, c)
		}
	}
	return s.saveDestinations(ctx, kept)
}

// ---- Snapshot ----

// Snapshot reads the settings the pipeline needs in a single query so
// every decision point of one processing run sees the same view.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM settings WHERE key IN (?,?,?,?)`,
		keyPackagesJSON, keyPackagesLegacy, keyContactsJSON, keyCaptureAll)
	if err != nil {
		return Snapshot{}, err
	}
	defer rows.Close()

	vals := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Snapshot{}, err
		}
		vals[k] = v
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}

	pkgs := s.resolvePackages(vals[keyPackagesJSON], vals[keyPackagesLegacy])
	snap := Snapshot{
		Packages:   make(map[string]bool, len(pkgs)),
		CaptureAll: vals[keyCaptureAll] == "true",
	}
	for _, p := range pkgs {
		snap.Packages[p.PackageName] = true
	}
	for _, d := range s.decodeDestinations(vals[keyContactsJSON]) {
		snap.Addresses = append(snap.Addresses, d.Address)
	}
	return snap, nil
}
