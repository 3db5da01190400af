package export

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/sha1n/kseek/internal/domain"
)

// ArchiveExtension is the conventional file extension of archives.
const ArchiveExtension = ".ndjson.zst"

// WriteArchive writes records to w as zstd-compressed newline-delimited JSON.
func WriteArchive(w io.Writer, records []domain.ExportedRecord) (err error) {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create archive encoder: %w", err)
	}
	defer func() {
		if cerr := enc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to finish archive: %w", cerr)
		}
	}()

	jsonEnc := json.NewEncoder(enc)
	for i := range records {
		if err := jsonEnc.Encode(&records[i]); err != nil {
			return fmt.Errorf("failed to write record %s: %w", records[i].ID(), err)
		}
	}
	return nil
}

// ReadArchive reads every record of an archive written by WriteArchive.
func ReadArchive(r io.Reader) ([]domain.ExportedRecord, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer dec.Close()

	var out []domain.ExportedRecord
	jsonDec := json.NewDecoder(bufio.NewReader(dec))
	for {
		var rec domain.ExportedRecord
		if err := jsonDec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("failed to read archive record %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
}

// WriteArchiveFile writes records to the archive at path.
func WriteArchiveFile(path string, records []domain.ExportedRecord) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return WriteArchive(f, records)
}

// ArchiveFile reads archives from disk. It satisfies source.ExportReader.
type ArchiveFile string

// Records reads every record of the archive.
func (a ArchiveFile) Records(context.Context) ([]domain.ExportedRecord, error) {
	f, err := os.Open(string(a))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ReadArchive(f)
}
