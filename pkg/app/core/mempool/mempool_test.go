package mempool

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestClassifyRaw(t *testing.T) {
	tests := []struct {
		name     string
		tx       string
		expected TxType
	}{
		{
			name:     "signed place",
			tx:       `{"type":"place","place":{"side":1},"signature":"0x1234"}`,
			expected: TxPlace,
		},
		{
			name:     "signed cancel",
			tx:       `{"type":"cancel","cancel":{"side":2},"signature":"0xabcd"}`,
			expected: TxCancel,
		},
		{
			name:     "signed approve",
			tx:       `{"type":"approve","approve":{"amount":"5"},"signature":"0xabcd"}`,
			expected: TxApprove,
		},
		{
			name:     "invalid JSON",
			tx:       `{"invalid": "json"`,
			expected: TxPlace,
		},
		{
			name:     "non-JSON",
			tx:       "UNKNOWN:foo",
			expected: TxPlace,
		},
		{
			name:     "empty transaction",
			tx:       "",
			expected: TxPlace,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyRaw([]byte(tt.tx))
			if got != tt.expected {
				t.Errorf("ClassifyRaw() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMempool_Ordering(t *testing.T) {
	m := NewMempool(0)

	place1 := `{"type":"place","place":{"side":1},"signature":"0x1111"}`
	place2 := `{"type":"place","place":{"side":2},"signature":"0x2222"}`
	cancel1 := `{"type":"cancel","cancel":{"side":1},"signature":"0x3333"}`
	approve1 := `{"type":"approve","approve":{"amount":"1"},"signature":"0x4444"}`
	cancel2 := `{"type":"cancel","cancel":{"side":2},"signature":"0x5555"}`

	for _, tx := range []string{place1, cancel1, place2, approve1, cancel2} {
		if err := m.PushRaw([]byte(tx)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	txs := m.SelectForProposal(10000)
	expectOrder := []string{approve1, cancel1, cancel2, place1, place2}
	if len(txs) != len(expectOrder) {
		t.Fatalf("expected %d txs, got %d", len(expectOrder), len(txs))
	}
	for i, expected := range expectOrder {
		if string(txs[i]) != expected {
			t.Errorf("tx[%d] mismatch\ngot:  %q\nwant: %q", i, string(txs[i]), expected)
		}
	}
	if m.Len() != 0 {
		t.Errorf("expected empty mempool, got %d", m.Len())
	}
}

func TestMempool_MaxBytes(t *testing.T) {
	m := NewMempool(0)
	m.PushRaw([]byte("P:1"))
	m.PushRaw([]byte("P:2"))
	m.PushRaw([]byte("P:3"))

	txs := m.SelectForProposal(6) // fits 2
	if len(txs) != 2 {
		t.Errorf("expected 2 txs with maxBytes=6, got %d", len(txs))
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 tx remaining, got %d", m.Len())
	}
}

func TestMempool_Capacity(t *testing.T) {
	m := NewMempool(2)
	if err := m.PushRaw([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := m.PushRaw([]byte("b")); err != nil {
		t.Fatal(err)
	}
	if err := m.PushRaw([]byte("c")); err != ErrFull {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	m.SelectForProposal(0)
	if err := m.PushRaw([]byte("c")); err != nil {
		t.Fatalf("push after drain: %v", err)
	}
}

func TestMempool_PushCopiesBytes(t *testing.T) {
	m := NewMempool(0)
	b := []byte(`{"type":"cancel"}`)
	m.PushRaw(b)
	b[2] = 'X'
	txs := m.SelectForProposal(0)
	if string(txs[0]) != `{"type":"cancel"}` {
		t.Errorf("mempool kept caller's buffer: %q", txs[0])
	}
}

func TestMempool_SignerOrderAcrossBuckets(t *testing.T) {
	alice := common.HexToAddress("0xa11ce")
	bob := common.HexToAddress("0xb0b")

	bobPlace := `{"type":"place","place":{"side":1},"signature":"0xb001"}`
	bobCancel := `{"type":"cancel","cancel":{"side":1},"signature":"0xb002"}`
	bobApprove := `{"type":"approve","approve":{"amount":"1"},"signature":"0xb003"}`
	aliceApprove := `{"type":"approve","approve":{"amount":"2"},"signature":"0xa001"}`
	anonCancel := `{"type":"cancel","cancel":{"side":2},"signature":"0x0001"}`

	m := NewMempool(0)
	m.Push([]byte(bobPlace), bob, 1)
	m.Push([]byte(bobCancel), bob, 2)
	m.Push([]byte(bobApprove), bob, 3)
	m.Push([]byte(aliceApprove), alice, 1)
	m.PushRaw([]byte(anonCancel))

	txs := m.SelectForProposal(0)
	expectOrder := []string{aliceApprove, anonCancel, bobPlace, bobCancel, bobApprove}
	if len(txs) != len(expectOrder) {
		t.Fatalf("expected %d txs, got %d", len(expectOrder), len(txs))
	}
	for i, expected := range expectOrder {
		if string(txs[i]) != expected {
			t.Errorf("tx[%d] mismatch\ngot:  %q\nwant: %q", i, string(txs[i]), expected)
		}
	}
}

func TestMempool_SignerNonceOrder(t *testing.T) {
	bob := common.HexToAddress("0xb0b")
	place := `{"type":"place","place":{"side":1},"signature":"0xb001"}`
	cancel := `{"type":"cancel","cancel":{"side":1},"signature":"0xb002"}`

	// Submitted out of nonce order.
	m := NewMempool(0)
	m.Push([]byte(cancel), bob, 2)
	m.Push([]byte(place), bob, 1)

	txs := m.SelectForProposal(0)
	if len(txs) != 2 || string(txs[0]) != place || string(txs[1]) != cancel {
		t.Fatalf("expected place then cancel, got %q", txs)
	}
}

func TestMempool_MaxBytesHoldsSignerBack(t *testing.T) {
	alice := common.HexToAddress("0xa11ce")
	bob := common.HexToAddress("0xb0b")

	m := NewMempool(0)
	m.Push([]byte("PLACE-TOO-BIG"), bob, 1)
	m.Push([]byte(`{"type":"cancel"}`), bob, 2)
	m.Push([]byte("P:a"), alice, 1)

	txs := m.SelectForProposal(5)
	if len(txs) != 1 || string(txs[0]) != "P:a" {
		t.Fatalf("expected only alice's tx, got %q", txs)
	}
	if m.Len() != 2 {
		t.Fatalf("expected bob's 2 txs to stay queued, got %d", m.Len())
	}

	txs = m.SelectForProposal(0)
	if len(txs) != 2 || string(txs[0]) != "PLACE-TOO-BIG" || string(txs[1]) != `{"type":"cancel"}` {
		t.Fatalf("expected bob's txs in nonce order, got %q", txs)
	}
}
