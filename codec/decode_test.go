package codec

import (
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/TheKidThatCodes/ccbridge/types"
)

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return raw
}

func TestDecodeEnvelope_Success(t *testing.T) {
	raw := mustMarshal(t, []any{true, []any{int64(1), "x", nil, 2.5}})
	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if !env.OK {
		t.Fatal("expected OK envelope")
	}
	if len(env.Values) != 4 {
		t.Fatalf("len(Values) = %d, want 4", len(env.Values))
	}
	if env.Values[0] != int64(1) || env.Values[1] != "x" || env.Values[2] != nil || env.Values[3] != 2.5 {
		t.Errorf("Values = %#v", env.Values)
	}
}

func TestDecodeEnvelope_UnsignedBecomesInt64(t *testing.T) {
	raw := mustMarshal(t, []any{true, []any{uint64(200), uint32(70000)}})
	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if env.Values[0] != int64(200) || env.Values[1] != int64(70000) {
		t.Errorf("Values = %#v", env.Values)
	}
}

func TestDecodeEnvelope_Failures(t *testing.T) {
	env, err := DecodeEnvelope(mustMarshal(t, []any{false, "bios.lua:1: oops"}))
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if env.OK || env.Message != "bios.lua:1: oops" || env.Status != nil {
		t.Errorf("env = %+v", env)
	}

	env, err = DecodeEnvelope(mustMarshal(t, []any{false, "Unknown block", int64(0)}))
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if env.Status == nil || *env.Status != 0 || env.Message != "Unknown block" {
		t.Errorf("env = %+v", env)
	}
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	bodies := []any{
		"nope",
		[]any{true},
		[]any{"yes", []any{}},
		[]any{true, "not a list"},
		[]any{false, "msg", "status"},
	}
	for _, b := range bodies {
		_, err := DecodeEnvelope(mustMarshal(t, b))
		if !types.IsTypeMismatch(err) {
			t.Errorf("DecodeEnvelope(%v) err = %v, want type mismatch", b, err)
		}
	}
}

func TestDecodeWire_TableKeys(t *testing.T) {
	raw := mustMarshal(t, map[any]any{int64(1): "a", 2.0: "b", "k": true})
	v, err := DecodeWire(raw)
	if err != nil {
		t.Fatalf("DecodeWire failed: %v", err)
	}
	tbl, ok := v.(types.Table)
	if !ok {
		t.Fatalf("DecodeWire returned %T, want types.Table", v)
	}
	if tbl[int64(1)] != "a" || tbl[int64(2)] != "b" || tbl["k"] != true {
		t.Errorf("table = %#v", tbl)
	}
}

func TestSeq_RebasesTable(t *testing.T) {
	env := types.Ok(types.Table{int64(3): "c", int64(1): "a", int64(2): "b"})
	seq, err := Seq(env)
	if err != nil {
		t.Fatalf("Seq failed: %v", err)
	}
	if len(seq) != 3 || seq[0] != "a" || seq[1] != "b" || seq[2] != "c" {
		t.Errorf("Seq = %#v, want [a b c]", seq)
	}
}

func TestSeq_EmptyTable(t *testing.T) {
	seq, err := Seq(types.Ok(types.Table{}))
	if err != nil {
		t.Fatalf("Seq failed: %v", err)
	}
	if len(seq) != 0 {
		t.Errorf("Seq = %#v, want empty", seq)
	}
}

func TestSeq_Holes(t *testing.T) {
	_, err := Seq(types.Ok(types.Table{int64(1): "a", int64(3): "c"}))
	if !types.IsTypeMismatch(err) {
		t.Errorf("err = %v, want type mismatch", err)
	}
}

func TestStringSeq(t *testing.T) {
	got, err := StringSeq(types.Ok([]types.Value{"rom", "startup.lua"}))
	if err != nil {
		t.Fatalf("StringSeq failed: %v", err)
	}
	if len(got) != 2 || got[1] != "startup.lua" {
		t.Errorf("StringSeq = %v", got)
	}
	if _, err := StringSeq(types.Ok([]types.Value{"a", int64(1)})); !types.IsTypeMismatch(err) {
		t.Errorf("err = %v, want type mismatch", err)
	}
}

func TestScalars(t *testing.T) {
	if b, err := Bool(types.Ok(true)); err != nil || !b {
		t.Errorf("Bool = %v, %v", b, err)
	}
	if _, err := Bool(types.Ok("true")); !types.IsTypeMismatch(err) {
		t.Errorf("Bool(string) err = %v, want type mismatch", err)
	}
	if i, err := Int(types.Ok(4.0)); err != nil || i != 4 {
		t.Errorf("Int(4.0) = %v, %v", i, err)
	}
	if _, err := Int(types.Ok(4.5)); !types.IsTypeMismatch(err) {
		t.Errorf("Int(4.5) err = %v, want type mismatch", err)
	}
	if f, err := Number(types.Ok(int64(2))); err != nil || f != 2 {
		t.Errorf("Number = %v, %v", f, err)
	}
	if s, err := String(types.Ok("")); err != nil || s != "" {
		t.Errorf("String = %q, %v", s, err)
	}
	if _, err := String(types.Ok(nil)); !types.IsTypeMismatch(err) {
		t.Errorf("String(nil) err = %v, want type mismatch", err)
	}
	if _, err := Nil(types.Ok()); err != nil {
		t.Errorf("Nil() err = %v", err)
	}
	if _, err := Nil(types.Ok(int64(1))); !types.IsTypeMismatch(err) {
		t.Errorf("Nil(1) err = %v, want type mismatch", err)
	}
}

func TestScalars_RejectExtraValues(t *testing.T) {
	if _, err := Bool(types.Ok(true, "extra")); !types.IsTypeMismatch(err) {
		t.Errorf("err = %v, want type mismatch", err)
	}
}

func TestOptString_DistinguishesEmptyFromNil(t *testing.T) {
	got, err := OptString(types.Ok(nil))
	if err != nil || got != nil {
		t.Errorf("OptString(nil) = %v, %v", got, err)
	}
	got, err = OptString(types.Ok())
	if err != nil || got != nil {
		t.Errorf("OptString() = %v, %v", got, err)
	}
	got, err = OptString(types.Ok(""))
	if err != nil || got == nil || *got != "" {
		t.Errorf("OptString(\"\") = %v, %v", got, err)
	}
}

func TestOptInt_And_OptBool(t *testing.T) {
	if got, err := OptInt(types.Ok(int64(9))); err != nil || got == nil || *got != 9 {
		t.Errorf("OptInt = %v, %v", got, err)
	}
	if got, err := OptBool(types.Ok(nil)); err != nil || got != nil {
		t.Errorf("OptBool = %v, %v", got, err)
	}
}

func TestMap(t *testing.T) {
	tbl, err := Map(types.Ok(types.Table{"size": int64(10), "isDir": false}))
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if tbl["size"] != int64(10) {
		t.Errorf("Map = %#v", tbl)
	}
	if got, err := OptMap(types.Ok(nil)); err != nil || got != nil {
		t.Errorf("OptMap(nil) = %v, %v", got, err)
	}
	if _, err := Map(types.Ok("x")); !types.IsTypeMismatch(err) {
		t.Errorf("err = %v, want type mismatch", err)
	}
}

func TestTuples(t *testing.T) {
	pos, err := Tuple2Int(types.Ok(int64(3), 7.0))
	if err != nil {
		t.Fatalf("Tuple2Int failed: %v", err)
	}
	if pos != [2]int64{3, 7} {
		t.Errorf("Tuple2Int = %v", pos)
	}

	if _, err := Tuple2Int(types.Ok(int64(3))); !types.IsTypeMismatch(err) {
		t.Errorf("short tuple err = %v, want type mismatch", err)
	}

	rgb, err := Tuple3Number(types.Ok(int64(1), 0.5, 0.25))
	if err != nil {
		t.Fatalf("Tuple3Number failed: %v", err)
	}
	if rgb != [3]float64{1, 0.5, 0.25} {
		t.Errorf("Tuple3Number = %v", rgb)
	}

	fix, err := Tuple3Int(types.Ok(int64(10), int64(64), int64(-5)))
	if err != nil || fix != [3]int64{10, 64, -5} {
		t.Errorf("Tuple3Int = %v, %v", fix, err)
	}

	mixed, err := Tuple(types.KindBool, types.KindString, types.KindAny)(types.Ok(false, "msg", nil))
	if err != nil {
		t.Fatalf("Tuple failed: %v", err)
	}
	if mixed[0] != false || mixed[1] != "msg" || mixed[2] != nil {
		t.Errorf("Tuple = %#v", mixed)
	}
}

func TestDecoders_MapErrors(t *testing.T) {
	_, err := Int(types.Err("attempt to call nil"))
	if !types.IsRemoteRuntime(err) || types.IsCommandFailure(err) {
		t.Errorf("err = %v, want plain remote runtime error", err)
	}
	if err.Error() != "attempt to call nil" {
		t.Errorf("message = %q, want verbatim remote message", err.Error())
	}

	_, err = Command(types.ErrStatus("Unknown command", 0))
	var e *types.Error
	if !types.IsCommandFailure(err) {
		t.Fatalf("err = %v, want command failure", err)
	}
	e = err.(*types.Error)
	if e.Output != "Unknown command" || e.Status != 0 {
		t.Errorf("command failure = %+v", e)
	}
}

func TestCommand_Success(t *testing.T) {
	res, err := Command(types.Ok("Set the time to 1000", int64(1)))
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	if res.Output != "Set the time to 1000" || res.Status != 1 {
		t.Errorf("Command = %+v", res)
	}
}

func TestValues_PreservesNils(t *testing.T) {
	vals, err := Values(types.Ok(nil, "x", nil))
	if err != nil {
		t.Fatalf("Values failed: %v", err)
	}
	if len(vals) != 3 || vals[0] != nil || vals[2] != nil {
		t.Errorf("Values = %#v", vals)
	}
}

func TestMapError_OK(t *testing.T) {
	if err := MapError(types.Ok()); err != nil {
		t.Errorf("MapError(ok) = %v", err)
	}
}
