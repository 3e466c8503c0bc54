package txcodec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"poolKeeper/internal/model"
)

type taprootKey struct {
	priv    *btcec.PrivateKey
	script  []byte
	address string
}

func newTaprootKey(t *testing.T, tag string) taprootKey {
	t.Helper()
	sum := sha256.Sum256([]byte(tag))
	priv, _ := btcec.PrivKeyFromBytes(sum[:])
	tapKey := txscript.ComputeTaprootKeyNoScript(priv.PubKey())
	script, err := txscript.PayToTaprootScript(tapKey)
	require.NoError(t, err)
	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(tapKey), &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	return taprootKey{priv: priv, script: script, address: addr.EncodeAddress()}
}

func testPacket(t *testing.T, user, pool taprootKey) *psbt.Packet {
	t.Helper()
	userPrev := wire.OutPoint{Hash: chainhash.Hash{0xaa}, Index: 1}
	poolPrev := wire.OutPoint{Hash: chainhash.Hash{0xbb}, Index: 0}
	packet, err := psbt.New(
		[]*wire.OutPoint{&userPrev, &poolPrev},
		[]*wire.TxOut{
			wire.NewTxOut(15000, user.script),
			wire.NewTxOut(160000, pool.script),
			wire.NewTxOut(0, []byte{txscript.OP_RETURN, 0x01, 0x2a}),
		},
		2, 0,
		[]uint32{wire.MaxTxInSequenceNum, wire.MaxTxInSequenceNum},
	)
	require.NoError(t, err)
	packet.Inputs[0].WitnessUtxo = wire.NewTxOut(80000, user.script)
	packet.Inputs[1].WitnessUtxo = wire.NewTxOut(100000, pool.script)
	return packet
}

func encode(t *testing.T, packet *psbt.Packet) (string, string) {
	t.Helper()
	b64, err := packet.B64Encode()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, packet.Serialize(&buf))
	return b64, hex.EncodeToString(buf.Bytes())
}

func TestParams(t *testing.T) {
	for name, want := range map[string]*chaincfg.Params{
		"mainnet": &chaincfg.MainNetParams,
		"testnet": &chaincfg.TestNet3Params,
		"signet":  &chaincfg.SigNetParams,
		"regtest": &chaincfg.RegressionNetParams,
	} {
		got, err := Params(name)
		require.NoError(t, err)
		require.Equal(t, want.Name, got.Name)
	}
	_, err := Params("litecoin")
	require.Error(t, err)
}

func TestDecodeCandidate(t *testing.T) {
	user, pool := newTaprootKey(t, "user"), newTaprootKey(t, "pool")
	packet := testPacket(t, user, pool)
	b64, hexPSBT := encode(t, packet)
	codec := New(&chaincfg.RegressionNetParams)

	fromB64, _, err := codec.Decode(b64)
	require.NoError(t, err)
	fromHex, _, err := codec.Decode(hexPSBT)
	require.NoError(t, err)
	require.Equal(t, fromB64, fromHex)

	require.Equal(t, model.TxID(packet.UnsignedTx.TxHash().String()), fromB64.ID)
	require.Equal(t, []model.CandidateInput{
		{Outpoint: model.Outpoint{TxID: model.TxID(chainhash.Hash{0xaa}.String()), Vout: 1}, Address: user.address, Value: 80000},
		{Outpoint: model.Outpoint{TxID: model.TxID(chainhash.Hash{0xbb}.String()), Vout: 0}, Address: pool.address, Value: 100000},
	}, fromB64.Inputs)
	require.Equal(t, []model.TxOutput{
		{Address: user.address, Value: 15000},
		{Address: pool.address, Value: 160000},
		{Address: "", Value: 0},
	}, fromB64.Outputs)
	require.Equal(t, 1, fromB64.InputIndex(model.Outpoint{TxID: model.TxID(chainhash.Hash{0xbb}.String()), Vout: 0}))

	reparsed, err := psbt.NewFromRawBytes(bytes.NewReader(fromB64.Raw), false)
	require.NoError(t, err)
	require.Equal(t, packet.UnsignedTx.TxHash(), reparsed.UnsignedTx.TxHash())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	codec := New(nil)
	for _, input := range []string{"", "not a psbt!", "deadbeef", "cHNidP8="} {
		_, _, err := codec.Decode(input)
		require.ErrorIs(t, err, ErrDecode, "input %q", input)
	}
}

func TestPrevOutFetcherRequiresEveryInput(t *testing.T) {
	packet := testPacket(t, newTaprootKey(t, "user"), newTaprootKey(t, "pool"))
	packet.Inputs[0].WitnessUtxo = nil

	_, err := PrevOutFetcher(packet)
	require.ErrorIs(t, err, ErrMissingPrevout)
}

func keySpend(t *testing.T, packet *psbt.Packet, idx int, key taprootKey) wire.TxWitness {
	t.Helper()
	fetcher, err := PrevOutFetcher(packet)
	require.NoError(t, err)
	prev := packet.Inputs[idx].WitnessUtxo
	witness, err := txscript.TaprootWitnessSignature(
		packet.UnsignedTx, txscript.NewTxSigHashes(packet.UnsignedTx, fetcher),
		idx, prev.Value, prev.PkScript, txscript.SigHashDefault, key.priv,
	)
	require.NoError(t, err)
	return witness
}

func TestFinalize(t *testing.T) {
	user, pool := newTaprootKey(t, "user"), newTaprootKey(t, "pool")
	packet := testPacket(t, user, pool)

	packet.Inputs[0].TaprootKeySpendSig = keySpend(t, packet, 0, user)[0]
	custody := keySpend(t, packet, 1, pool)

	tx, err := Finalize(packet, 1, custody)
	require.NoError(t, err)
	require.Equal(t, wire.TxWitness(custody), tx.TxIn[1].Witness)

	fetcher, err := PrevOutFetcher(packet)
	require.NoError(t, err)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i := range tx.TxIn {
		prev := packet.Inputs[i].WitnessUtxo
		vm, err := txscript.NewEngine(prev.PkScript, tx, i, txscript.StandardVerifyFlags, nil, sigHashes, prev.Value, fetcher)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d", i)
	}

	raw, err := EncodeTx(tx)
	require.NoError(t, err)
	decoded, err := hex.DecodeString(raw)
	require.NoError(t, err)
	var parsed wire.MsgTx
	require.NoError(t, parsed.Deserialize(bytes.NewReader(decoded)))
	require.Equal(t, tx.TxHash(), parsed.TxHash())
}

func TestFinalizeRejectsScriptWitness(t *testing.T) {
	packet := testPacket(t, newTaprootKey(t, "user"), newTaprootKey(t, "pool"))

	_, err := Finalize(packet, 1, [][]byte{{1}, {2}})
	require.ErrorIs(t, err, ErrBadWitness)
	_, err = Finalize(packet, 4, [][]byte{{1}})
	require.ErrorIs(t, err, ErrBadWitness)
}

func TestFinalizeNeedsEveryInputSigned(t *testing.T) {
	user, pool := newTaprootKey(t, "user"), newTaprootKey(t, "pool")
	packet := testPacket(t, user, pool)

	_, err := Finalize(packet, 1, keySpend(t, packet, 1, pool))
	require.Error(t, err)
}
