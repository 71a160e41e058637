package documents

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Lapin-Blanc/electruc-portal/internal/secretcode"
)

// ManifestName is the CSV file listing every code in a letters archive.
const ManifestName = "codes.csv"

const maxRenderWorkers = 4

// LetterFileName is the archive entry name of the letter for ean.
func LetterFileName(ean string) string {
	return fmt.Sprintf("invitation-%s.pdf", ean)
}

// BulkLetters renders one letter per entry and writes them to w as a ZIP
// archive, followed by a codes.csv manifest. Entries keep the input order.
func BulkLetters(ctx context.Context, w io.Writer, letters []LetterData) error {
	rendered := make([][]byte, len(letters))

	p := pool.New().
		WithMaxGoroutines(maxRenderWorkers).
		WithContext(ctx).
		WithCancelOnError()

	for i := range letters {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pdf, err := Letter(letters[i])
			if err != nil {
				return fmt.Errorf("render letter %d: %w", i, err)
			}
			rendered[i] = pdf
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	for i, data := range letters {
		f, err := zw.Create(LetterFileName(data.MeterPoint.EAN))
		if err != nil {
			return fmt.Errorf("create archive entry: %w", err)
		}
		if _, err := f.Write(rendered[i]); err != nil {
			return fmt.Errorf("write archive entry: %w", err)
		}
	}

	manifest, err := zw.Create(ManifestName)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	if err := writeManifest(manifest, letters); err != nil {
		return err
	}

	return zw.Close()
}

func writeManifest(w io.Writer, letters []LetterData) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"ean", "holder", "code", "expires_at"}); err != nil {
		return err
	}
	for _, data := range letters {
		row := []string{
			data.MeterPoint.EAN,
			data.MeterPoint.HolderName(),
			secretcode.Group(data.Code),
			data.ExpiresAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
