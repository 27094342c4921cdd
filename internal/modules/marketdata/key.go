package marketdata

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aristath/frontier/internal/modules/optimization"
)

const dateLayout = "2006-01-02"

// DatasetKey identifies one dataset: where the prices come from, the date
// range, and the asset set. Asset order does not matter.
type DatasetKey struct {
	Source string
	Start  time.Time
	End    time.Time
	Assets []string
}

// NormalizeSource is the canonical form of a source name in keys and the
// cache.
func NormalizeSource(source string) string {
	return strings.ToLower(strings.TrimSpace(source))
}

// NewDatasetKey builds a key with uppercased, de-duplicated, sorted assets
// and validates it.
func NewDatasetKey(source string, start, end time.Time, assets []string) (DatasetKey, error) {
	seen := make(map[string]bool, len(assets))
	normalized := make([]string, 0, len(assets))
	for _, a := range assets {
		a = strings.ToUpper(strings.TrimSpace(a))
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		normalized = append(normalized, a)
	}
	sort.Strings(normalized)

	key := DatasetKey{
		Source: NormalizeSource(source),
		Start:  dayOf(start),
		End:    dayOf(end),
		Assets: normalized,
	}
	if err := key.Validate(); err != nil {
		return DatasetKey{}, err
	}
	return key, nil
}

// ParseDatasetKey builds a key from ISO dates and a comma-separated asset list.
func ParseDatasetKey(source, start, end, assets string) (DatasetKey, error) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return DatasetKey{}, fmt.Errorf("%w: invalid start date %q", optimization.ErrInvalidInput, start)
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return DatasetKey{}, fmt.Errorf("%w: invalid end date %q", optimization.ErrInvalidInput, end)
	}
	return NewDatasetKey(source, s, e, strings.Split(assets, ","))
}

// Validate checks that the key names a source, a non-empty range and at
// least one asset.
func (k DatasetKey) Validate() error {
	if k.Source == "" {
		return fmt.Errorf("%w: dataset source is required", optimization.ErrInvalidInput)
	}
	if strings.Contains(k.Source, ":") {
		return fmt.Errorf("%w: dataset source %q must not contain ':'", optimization.ErrInvalidInput, k.Source)
	}
	if !k.Start.Before(k.End) {
		return fmt.Errorf("%w: start %s must be before end %s", optimization.ErrInvalidInput,
			k.Start.Format(dateLayout), k.End.Format(dateLayout))
	}
	if len(k.Assets) == 0 {
		return fmt.Errorf("%w: at least one asset is required", optimization.ErrInvalidInput)
	}
	return nil
}

// Hash is a deterministic digest of the sorted asset set.
func (k DatasetKey) Hash() string {
	sorted := append([]string(nil), k.Assets...)
	sort.Strings(sorted)
	h := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(h[:8])
}

// String renders source:start:end:hash, the cache key. The source prefix
// lets a whole source be invalidated at once.
func (k DatasetKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Source, k.Start.Format(dateLayout), k.End.Format(dateLayout), k.Hash())
}

// ArchiveName is the object name of the dataset's CSV snapshot.
func (k DatasetKey) ArchiveName() string {
	return fmt.Sprintf("%s/%s_%s/%s.csv", k.Source, k.Start.Format(dateLayout), k.End.Format(dateLayout), k.Hash())
}
