package repository

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jszwec/csvutil"
	"golang.org/x/crypto/blake2b"

	"persona-eval/internal/domain"
)

// ErrEmptyInventory se devuelve cuando el CSV no tiene items.
var ErrEmptyInventory = errors.New("inventory has no items")

type inventoryRow struct {
	LabelRaw   string `csv:"label_raw"`
	Text       string `csv:"text"`
	LabelOcean string `csv:"label_ocean"`
	Key        int    `csv:"key"`
}

// Inventory es el inventario cargado junto con su huella.
type Inventory struct {
	Path        string
	Fingerprint string
	Items       []domain.InventoryItem
}

// LoadInventory lee el CSV label_raw,text,label_ocean,key. Un codigo de rasgo invalido
// o una key no entera hacen fallar la carga completa.
func LoadInventory(path string) (Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Inventory{}, fmt.Errorf("read inventory: %w", err)
	}

	var rows []inventoryRow
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return Inventory{}, fmt.Errorf("parse inventory %s: %w", path, err)
	}
	if len(rows) == 0 {
		return Inventory{}, fmt.Errorf("%s: %w", path, ErrEmptyInventory)
	}

	items := make([]domain.InventoryItem, 0, len(rows))
	for i, row := range rows {
		code := domain.TraitCode(strings.ToUpper(strings.TrimSpace(row.LabelOcean)))
		if !code.Valid() {
			return Inventory{}, fmt.Errorf("inventory %s row %d: invalid label_ocean %q", path, i+2, row.LabelOcean)
		}
		items = append(items, domain.InventoryItem{
			LabelRaw:  strings.TrimSpace(row.LabelRaw),
			Text:      strings.TrimSpace(row.Text),
			TraitCode: code,
			Key:       row.Key,
		})
	}

	sum := blake2b.Sum256(data)
	return Inventory{
		Path:        path,
		Fingerprint: hex.EncodeToString(sum[:]),
		Items:       items,
	}, nil
}
