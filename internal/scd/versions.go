//-------------------------------------------------------------------------
//
// pgEdge Warehouse Key Resolver
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package scd

import (
	"sort"
)

// VersionSet is the output of the version builder.
type VersionSet struct {
	// Versions is ordered by natural id, then valid_from.
	Versions []EntityVersion

	// Rejected rows could not be windowed and were dropped.
	Rejected []*DataQualityError

	// Merged counts staging rows folded into another row with the same
	// (natural id, created_at).
	Merged int

	// Conflicts lists merged rows whose names disagreed with the kept row.
	Conflicts []*DataQualityError
}

type versionPoint struct {
	name        string
	duplicate   bool
	fromStaging bool

	// stored is the name the dimension already holds for this version.
	stored string
	issued bool
}

// BuildVersions windows staging records into contiguous, non-overlapping
// versions per natural id.
func BuildVersions(entity string, records []StagingRecord) VersionSet {
	return BuildVersionsWithHistory(entity, records, nil)
}

// BuildVersionsWithHistory windows the union of already issued dimension
// rows and incoming staging records. Versions already in the dimension
// stay in the sequence even when the staging snapshot no longer carries
// them, so a partial load never reopens a closed window.
//
// Records sharing (natural id, created_at) collapse into one version. The
// kept row is the one not flagged as a possible duplicate, then the one
// with the smallest name.
func BuildVersionsWithHistory(entity string, records []StagingRecord, history []DimensionRow) VersionSet {
	var set VersionSet
	points := make(map[VersionKey]*versionPoint)

	for _, row := range history {
		points[row.Key()] = &versionPoint{name: row.Name, stored: row.Name, issued: true}
	}

	for _, rec := range records {
		if rec.NaturalID == "" {
			set.Rejected = append(set.Rejected, &DataQualityError{
				Entity:    entity,
				CreatedAt: rec.CreatedAt,
				Reason:    "missing natural id",
			})
			continue
		}
		if rec.CreatedAt.IsZero() {
			set.Rejected = append(set.Rejected, &DataQualityError{
				Entity:    entity,
				NaturalID: rec.NaturalID,
				Reason:    "missing or unparseable timestamp; row cannot be windowed",
			})
			continue
		}

		key := VersionKey{NaturalID: rec.NaturalID, ValidFrom: rec.CreatedAt.UTC()}
		existing, ok := points[key]
		if !ok || !existing.fromStaging {
			p := &versionPoint{
				name:        rec.Name,
				duplicate:   rec.PossibleDuplicate,
				fromStaging: true,
			}
			if ok {
				p.stored, p.issued = existing.stored, existing.issued
			}
			points[key] = p
			continue
		}

		set.Merged++
		if existing.name != rec.Name {
			set.Conflicts = append(set.Conflicts, &DataQualityError{
				Entity:    entity,
				NaturalID: rec.NaturalID,
				CreatedAt: rec.CreatedAt,
				Reason:    "identical timestamp with a different name; rows merged into one version",
			})
		}
		if preferRecord(rec, existing) {
			existing.name = rec.Name
			existing.duplicate = rec.PossibleDuplicate
		}
	}

	keys := make([]VersionKey, 0, len(points))
	for key := range points {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].NaturalID != keys[j].NaturalID {
			return keys[i].NaturalID < keys[j].NaturalID
		}
		return keys[i].ValidFrom.Before(keys[j].ValidFrom)
	})

	set.Versions = make([]EntityVersion, 0, len(keys))
	for i, key := range keys {
		v := EntityVersion{
			NaturalID: key.NaturalID,
			Name:      points[key].name,
			CreatedAt: key.ValidFrom,
			ValidFrom: key.ValidFrom,
		}
		if i+1 < len(keys) && keys[i+1].NaturalID == key.NaturalID {
			v.ValidTo = ptrTime(keys[i+1].ValidFrom)
		}
		set.Versions = append(set.Versions, v)
	}

	return set
}

// preferRecord reports whether rec should replace the kept point. A
// version that already has a key keeps its stored name whenever a record
// carries it, because the duplicate flag is cleared by the write-back and
// cannot decide a later run.
func preferRecord(rec StagingRecord, kept *versionPoint) bool {
	if kept.issued {
		recStored, keptStored := rec.Name == kept.stored, kept.name == kept.stored
		if recStored != keptStored {
			return recStored
		}
	}
	if rec.PossibleDuplicate != kept.duplicate {
		return !rec.PossibleDuplicate
	}
	return rec.Name < kept.name
}

// GroupVersions splits an ordered version list by natural id.
func GroupVersions(versions []EntityVersion) map[string][]EntityVersion {
	groups := make(map[string][]EntityVersion)
	for _, v := range versions {
		groups[v.NaturalID] = append(groups[v.NaturalID], v)
	}
	return groups
}
