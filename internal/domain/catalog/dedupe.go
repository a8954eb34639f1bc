package catalog

import (
	"context"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// DuplicateGroup is a set of tests sharing a code (or, for tests without a
// code, a name) together with the survivor chosen for it.
type DuplicateGroup struct {
	Key     string
	Keep    Test
	Discard []Test
}

// FindDuplicates groups tests by normalized code, falling back to the
// lower-cased name for tests that have no code, and picks a canonical
// survivor for every group with more than one member. Groups are returned
// sorted by key.
func FindDuplicates(tests []Test) []DuplicateGroup {
	groups := make(map[string][]Test)
	for _, t := range tests {
		key := dedupeKey(t)
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], t)
	}

	var out []DuplicateGroup
	for key, members := range groups {
		if len(members) < 2 {
			continue
		}
		sort.SliceStable(members, func(i, j int) bool {
			return preferred(members[i], members[j])
		})
		out = append(out, DuplicateGroup{
			Key:     key,
			Keep:    members[0],
			Discard: members[1:],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func dedupeKey(t Test) string {
	if code := NormalizeCode(t.Code); code != "" {
		return "code:" + code
	}
	if name := strings.ToLower(strings.TrimSpace(t.Name)); name != "" {
		return "name:" + name
	}
	return ""
}

// preferred reports whether a should survive over b: non-zero cost first,
// then an id equal to the code, then the most recently updated.
func preferred(a, b Test) bool {
	aCost, bCost := a.L2LPrice.IsPositive(), b.L2LPrice.IsPositive()
	if aCost != bCost {
		return aCost
	}
	aCanon, bCanon := idIsCode(a), idIsCode(b)
	if aCanon != bCanon {
		return aCanon
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

func idIsCode(t Test) bool {
	code := NormalizeCode(t.Code)
	return code != "" && NormalizeCode(t.ID) == code
}

// FixDuplicates deletes every non-canonical duplicate from the catalog and
// returns the groups it resolved.
func FixDuplicates(ctx context.Context, repo TestRepository) ([]DuplicateGroup, error) {
	tests, err := repo.ListTests(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list tests")
	}

	groups := FindDuplicates(tests)
	if len(groups) == 0 {
		return nil, nil
	}

	var ids []string
	for _, g := range groups {
		for _, t := range g.Discard {
			ids = append(ids, t.ID)
		}
	}
	if err := repo.DeleteTests(ctx, ids); err != nil {
		return nil, errors.Wrap(err, "delete duplicates")
	}

	zctx.From(ctx).Info("Catalog duplicates removed",
		zap.Int("groups", len(groups)),
		zap.Int("deleted", len(ids)),
	)
	return groups, nil
}
