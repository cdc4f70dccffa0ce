package settings

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/router-for-me/ChatBilling/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func TestParseNonNegativeInt(t *testing.T) {
	cases := []struct {
		raw  string
		want int64
		ok   bool
	}{
		{`100`, 100, true},
		{`"42"`, 42, true},
		{`12.0`, 12, true},
		{`12.5`, 0, false},
		{`-1`, -1, false},
		{`"abc"`, 0, false},
		{``, 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseNonNegativeInt(json.RawMessage(tc.raw))
		if ok != tc.ok || (ok && got != tc.want) {
			t.Fatalf("ParseNonNegativeInt(%s) = (%d, %v), want (%d, %v)", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseNonNegativeDecimal(t *testing.T) {
	got, ok := ParseNonNegativeDecimal(json.RawMessage(`"0.0005"`))
	if !ok || !got.Equal(decimal.RequireFromString("0.0005")) {
		t.Fatalf("unexpected decimal from string: %s ok=%v", got, ok)
	}
	got, ok = ParseNonNegativeDecimal(json.RawMessage(`10`))
	if !ok || !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected decimal from number: %s ok=%v", got, ok)
	}
	if _, ok = ParseNonNegativeDecimal(json.RawMessage(`"-3"`)); ok {
		t.Fatalf("expected negative decimal to be rejected")
	}
}

func TestParseBool(t *testing.T) {
	for raw, want := range map[string]bool{`true`: true, `"on"`: true, `0`: false, `"no"`: false} {
		got, ok := ParseBool(json.RawMessage(raw))
		if !ok || got != want {
			t.Fatalf("ParseBool(%s) = (%v, %v)", raw, got, ok)
		}
	}
	if _, ok := ParseBool(json.RawMessage(`"maybe"`)); ok {
		t.Fatalf("expected unknown string to be rejected")
	}
}

func TestLoad_ReplacesSnapshot(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+filepath.Join(t.TempDir(), "settings.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.AutoMigrate(&models.Setting{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	StoreDBConfig(map[string]json.RawMessage{"STALE": json.RawMessage(`1`)})

	row := models.Setting{Key: MinChargeKey, Value: datatypes.JSON(`25`), UpdatedAt: time.Now().UTC()}
	if errCreate := db.Create(&row).Error; errCreate != nil {
		t.Fatalf("create setting: %v", errCreate)
	}
	if errLoad := Load(context.Background(), db); errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if _, ok := DBConfigValue("STALE"); ok {
		t.Fatalf("expected stale key to be dropped")
	}
	raw, ok := DBConfigValue(MinChargeKey)
	if !ok {
		t.Fatalf("expected %s in snapshot", MinChargeKey)
	}
	if value, okParse := ParseNonNegativeInt(raw); !okParse || value != 25 {
		t.Fatalf("unexpected snapshot value %s", string(raw))
	}
	StoreDBConfig(nil)
}
