package market

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	hyplAddr = common.HexToAddress("0x00000000000000000000000000000000000a55e7")
	goldAddr = common.HexToAddress("0x00000000000000000000000000000000000a55e8")
)

func mustAsset(t *testing.T, sym string, addr common.Address, dec uint8) *Asset {
	t.Helper()
	a, err := NewAsset(sym, addr, dec)
	if err != nil {
		t.Fatalf("NewAsset(%s): %v", sym, err)
	}
	return a
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(mustAsset(t, "HYPL", hyplAddr, 18)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(mustAsset(t, "GOLD", goldAddr, 6)); err != nil {
		t.Fatal(err)
	}

	if err := r.Register(mustAsset(t, "HYPL", common.HexToAddress("0x01"), 1)); !errors.Is(err, ErrAssetExists) {
		t.Errorf("duplicate symbol err = %v", err)
	}
	if err := r.Register(mustAsset(t, "OTHER", hyplAddr, 1)); !errors.Is(err, ErrAssetExists) {
		t.Errorf("duplicate address err = %v", err)
	}

	a, err := r.BySymbol("GOLD")
	if err != nil || a.Address != goldAddr {
		t.Fatalf("BySymbol = %+v, %v", a, err)
	}
	if a.Scale().Uint64() != 1_000_000 {
		t.Errorf("scale = %s", a.Scale().Dec())
	}
	if _, err := r.Get(common.HexToAddress("0x02")); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("Get unknown err = %v", err)
	}

	list := r.List()
	if len(list) != 2 || list[0].Address != hyplAddr {
		t.Errorf("list = %+v", list)
	}
	if r.Count() != 2 {
		t.Errorf("count = %d", r.Count())
	}
}

func TestStatusTransitions(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(mustAsset(t, "HYPL", hyplAddr, 18))

	if err := r.CheckTradable(hyplAddr); err != nil {
		t.Fatalf("new asset should be tradable: %v", err)
	}
	if err := r.UpdateStatus(hyplAddr, Paused); err != nil {
		t.Fatal(err)
	}
	if err := r.CheckTradable(hyplAddr); !errors.Is(err, ErrAssetPaused) {
		t.Errorf("paused err = %v", err)
	}
	if err := r.UpdateStatus(hyplAddr, Active); err != nil {
		t.Fatal(err)
	}
	if err := r.UpdateStatus(hyplAddr, Delisted); err != nil {
		t.Fatal(err)
	}
	if err := r.UpdateStatus(hyplAddr, Active); err == nil {
		t.Error("delisted must be terminal")
	}
}

func TestNewAssetValidation(t *testing.T) {
	if _, err := NewAsset("", hyplAddr, 1); err == nil {
		t.Error("empty symbol accepted")
	}
	if _, err := NewAsset("X", common.Address{}, 1); err == nil {
		t.Error("zero address accepted")
	}
	if _, err := NewAsset("X", hyplAddr, 78); err == nil {
		t.Error("78 decimals accepted")
	}
}
