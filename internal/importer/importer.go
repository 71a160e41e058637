// Package importer loads meter points from CSV exports.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"gorm.io/gorm"

	"github.com/Lapin-Blanc/electruc-portal/internal/invitation"
	"github.com/Lapin-Blanc/electruc-portal/internal/models"
)

// Columns is the expected CSV header.
var Columns = []string{
	"ean",
	"holder_firstname",
	"holder_lastname",
	"address_line1",
	"address_line2",
	"postal_code",
	"city",
	"country",
}

// ErrMissingColumns is returned when the header lacks required columns.
var ErrMissingColumns = errors.New("csv header is missing columns")

// Options tune an import run.
type Options struct {
	// HistoryMonths is the number of past months of history to ensure.
	HistoryMonths int
	// Issue creates a fresh invitation for every imported meter point.
	Issue bool
	// TTL of issued invitations; zero uses the lifecycle default.
	TTL time.Duration
}

// IssuedCode is an invitation created during import with its plaintext code.
type IssuedCode struct {
	MeterPoint *models.MeterPoint
	Invitation *models.Invitation
	Code       string
}

// Result summarizes an import run.
type Result struct {
	Created int          `json:"created"`
	Updated int          `json:"updated"`
	Errors  int          `json:"errors"`
	Issued  []IssuedCode `json:"-"`

	rowErrors *multierror.Error
}

// Err returns every row error, or nil.
func (r *Result) Err() error {
	return r.rowErrors.ErrorOrNil()
}

func (r *Result) fail(line int, err error) {
	r.Errors++
	r.rowErrors = multierror.Append(r.rowErrors, fmt.Errorf("line %d: %w", line, err))
}

// Importer upserts meter points by EAN.
type Importer struct {
	db        *gorm.DB
	lifecycle *invitation.Lifecycle
	log       *zap.Logger

	Now func() time.Time
}

// New creates an Importer.
func New(db *gorm.DB, lifecycle *invitation.Lifecycle, log *zap.Logger) *Importer {
	return &Importer{db: db, lifecycle: lifecycle, log: log, Now: time.Now}
}

// Import reads r and upserts one meter point per row. A bad row is counted
// and skipped; only an unreadable header aborts the run.
func (im *Importer) Import(ctx context.Context, r io.Reader, opts Options) (*Result, error) {
	reader := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	index, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	line := 1
	for {
		record, err := reader.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.fail(line, err)
			continue
		}

		row, err := parseRow(record, index)
		if err != nil {
			res.fail(line, err)
			continue
		}

		mp, created, err := im.upsert(ctx, row, opts.HistoryMonths)
		if err != nil {
			res.fail(line, err)
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}

		if opts.Issue {
			inv, code, err := im.lifecycle.Issue(ctx, mp, opts.TTL)
			if err != nil {
				res.fail(line, err)
				continue
			}
			res.Issued = append(res.Issued, IssuedCode{MeterPoint: mp, Invitation: inv, Code: code})
		}
	}

	im.log.Info("meter point import finished",
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("errors", res.Errors),
		zap.Int("issued", len(res.Issued)),
	)
	return res, nil
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}

	var missing []string
	for _, col := range Columns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return index, nil
}

func parseRow(record []string, index map[string]int) (models.MeterPoint, error) {
	get := func(col string) string {
		if i := index[col]; i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	mp := models.MeterPoint{
		EAN:             strings.ReplaceAll(get("ean"), " ", ""),
		HolderFirstName: get("holder_firstname"),
		HolderLastName:  get("holder_lastname"),
		AddressLine1:    get("address_line1"),
		AddressLine2:    get("address_line2"),
		PostalCode:      get("postal_code"),
		City:            get("city"),
		Country:         strings.ToUpper(get("country")),
	}
	if mp.Country == "" {
		mp.Country = "BE"
	}

	if err := ValidateEAN(mp.EAN); err != nil {
		return mp, err
	}
	if mp.HolderLastName == "" {
		return mp, errors.New("holder_lastname is required")
	}
	return mp, nil
}

// ValidateEAN checks that ean is an 18 digit meter point code.
func ValidateEAN(ean string) error {
	if len(ean) != 18 {
		return fmt.Errorf("ean %q must have 18 digits", ean)
	}
	for _, r := range ean {
		if r < '0' || r > '9' {
			return fmt.Errorf("ean %q must contain digits only", ean)
		}
	}
	return nil
}

func (im *Importer) upsert(ctx context.Context, row models.MeterPoint, months int) (*models.MeterPoint, bool, error) {
	var mp models.MeterPoint
	created := false

	err := im.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("ean = ?", row.EAN).First(&mp).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			mp = row
			created = true
			if err := tx.Create(&mp).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if err := tx.Model(&mp).
				Select("HolderFirstName", "HolderLastName", "AddressLine1", "AddressLine2", "PostalCode", "City", "Country").
				Updates(&row).Error; err != nil {
				return err
			}
			if err := tx.First(&mp, "id = ?", mp.ID).Error; err != nil {
				return err
			}
		}

		return EnsureHistory(tx, &mp, months, im.Now())
	})
	if err != nil {
		return nil, false, fmt.Errorf("upsert meter point %s: %w", row.EAN, err)
	}
	return &mp, created, nil
}
