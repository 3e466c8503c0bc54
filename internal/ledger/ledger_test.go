package ledger

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"poolKeeper/internal/model"
)

func utxo(txid model.TxID, value uint64) model.Utxo {
	return model.Utxo{Outpoint: model.Outpoint{TxID: txid, Vout: 0}, Value: value}
}

func buildLedger(t *testing.T, n int) *Ledger {
	t.Helper()
	l := New("pool", "test", []string{"m", "0"}, time.Unix(1700000000, 0))
	for i := 1; i <= n; i++ {
		txid := model.TxID(fmt.Sprintf("t%d", i))
		if err := l.Push(l.Stage(txid, utxo(txid, uint64(i)*1000))); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	return l
}

func TestNewLedgerGenesis(t *testing.T) {
	l := New("pool", "test", nil, time.Time{})
	head := l.Head()
	if !head.Genesis() || head.Sequence != 0 || head.Custody != nil {
		t.Fatalf("unexpected genesis: %+v", head)
	}
	if l.TotalCustodied() != 0 {
		t.Fatalf("genesis custodies nothing")
	}
}

func TestStageDoesNotMutate(t *testing.T) {
	l := New("pool", "test", nil, time.Time{})
	staged := l.Stage("t1", utxo("t1", 5))
	if staged.Sequence != 1 || l.Len() != 1 {
		t.Fatalf("stage mutated ledger: len=%d staged=%+v", l.Len(), staged)
	}
}

func TestPushRejectsGap(t *testing.T) {
	l := buildLedger(t, 1)
	err := l.Push(model.PoolState{CreatingTx: "x", Sequence: 5})
	if err == nil {
		t.Fatalf("expected gap error")
	}
	if err := l.Push(model.PoolState{Sequence: 2}); err == nil {
		t.Fatalf("expected missing creator error")
	}
	if l.Len() != 2 {
		t.Fatalf("failed push mutated ledger")
	}
}

func TestTruncateFrom(t *testing.T) {
	l := buildLedger(t, 4)

	removed, ok := l.TruncateFrom("t2")
	if !ok {
		t.Fatalf("truncate failed")
	}
	if len(removed) != 3 || removed[0].CreatingTx != "t2" {
		t.Fatalf("removed mismatch: %+v", removed)
	}
	if l.Head().CreatingTx != "t1" || l.TotalCustodied() != 1000 {
		t.Fatalf("head mismatch: %+v", l.Head())
	}
	if err := l.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if _, ok := l.TruncateFrom("t3"); ok {
		t.Fatalf("truncated state must not be found again")
	}
}

func TestTruncateNeverDropsOldest(t *testing.T) {
	l := buildLedger(t, 2)
	if _, ok := l.PruneBefore("t1"); !ok {
		t.Fatalf("prune failed")
	}
	if _, ok := l.TruncateFrom("t1"); ok {
		t.Fatalf("oldest retained state must not be truncated")
	}
	if l.Len() != 2 {
		t.Fatalf("ledger changed: %d", l.Len())
	}
}

func TestPruneBefore(t *testing.T) {
	l := buildLedger(t, 3)

	pruned, ok := l.PruneBefore("t2")
	if !ok || len(pruned) != 2 {
		t.Fatalf("prune mismatch: %d %v", len(pruned), ok)
	}
	if l.Oldest().CreatingTx != "t2" || l.Head().CreatingTx != "t3" {
		t.Fatalf("unexpected bounds: %+v %+v", l.Oldest(), l.Head())
	}

	pruned, ok = l.PruneBefore("t2")
	if !ok || len(pruned) != 0 {
		t.Fatalf("re-prune should be a no-op: %d %v", len(pruned), ok)
	}

	if _, ok := l.PruneBefore("t1"); ok {
		t.Fatalf("pruned state must not be found")
	}
}

func TestPruneKeepsHead(t *testing.T) {
	l := buildLedger(t, 2)
	if _, ok := l.PruneBefore("t2"); !ok {
		t.Fatalf("prune failed")
	}
	if l.Len() != 1 || l.Head().CreatingTx != "t2" {
		t.Fatalf("head lost: %+v", l.States())
	}
}

func TestSnapshotRestore(t *testing.T) {
	l := buildLedger(t, 3)
	l.Credit(50000, 50000)

	restored, err := Restore(l.Snapshot())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !reflect.DeepEqual(l.Snapshot(), restored.Snapshot()) {
		t.Fatalf("snapshot mismatch")
	}
}

func TestRestoreRejectsGap(t *testing.T) {
	snap := model.LedgerSnapshot{
		Address: "pool",
		States: []model.PoolState{
			{Sequence: 0},
			{CreatingTx: "t2", Sequence: 2},
		},
	}
	if _, err := Restore(snap); err == nil {
		t.Fatalf("expected gap error")
	}
	if _, err := Restore(model.LedgerSnapshot{Address: "pool"}); err == nil {
		t.Fatalf("expected empty error")
	}
}
