// Package filter compiles human-readable metadata filter expressions, such
// as `sk_buff.dev.name == 'dummy0'`, into a Program: a short sequence of
// MetaOps an in-kernel interpreter runs against a live sk_buff to decide
// whether to keep or drop an event. Compile walks the kernel's BTF type
// graph to resolve each dotted field, exactly as a C expression of the same
// shape would be laid out by the compiler.
package filter

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/skbtrace/skbtrace/internal/btf"
)

const ptrSize = 8
const rootType = "sk_buff"

type lhsNode struct {
	member     string
	mask       uint64
	hasMask    bool
	tgtType    string
	hasTgtType bool
}

type rvalKind int

const (
	rvalDec rvalKind = iota
	rvalHex
	rvalStr
)

type rval struct {
	kind rvalKind
	val  string
}

func parseRval(s string) rval {
	if len(s) >= 2 {
		if (strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"")) ||
			(strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'")) {
			return rval{kind: rvalStr, val: s[1 : len(s)-1]}
		}
	}
	if strings.HasPrefix(s, "0x") {
		return rval{kind: rvalHex, val: strings.TrimPrefix(s, "0x")}
	}
	return rval{kind: rvalDec, val: s}
}

func parseMask(el string) (uint64, error) {
	not := false
	if strings.HasPrefix(el, "~") {
		not = true
		el = el[1:]
	}

	base := 10
	s := el
	switch {
	case strings.HasPrefix(el, "0x"):
		base, s = 16, el[2:]
	case strings.HasPrefix(el, "0b"):
		base, s = 2, el[2:]
	}

	mask, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, newError(UnsupportedMask, "invalid mask. use a hex, binary or decimal mask (0x<hex>, 0b<bin>, <decimal>)")
	}
	if not {
		mask = ^mask
	}
	if mask == 0 {
		return 0, newError(UnsupportedMask, "mask cannot be zero")
	}
	return mask, nil
}

// parseFilter splits "LHS OP RHS" (or a bare LHS, defaulted to "!= 0") and
// the dotted LHS into its member.mask.cast nodes.
func parseFilter(expr string) ([]lhsNode, Cmp, string, error) {
	parts := strings.Split(expr, " ")

	var lhs, opStr, rhs string
	switch len(parts) {
	case 3:
		lhs, opStr, rhs = parts[0], parts[1], parts[2]
	case 1:
		lhs, opStr, rhs = parts[0], "!=", "0"
	default:
		return nil, 0, "", newError(InvalidSyntax, fmt.Sprintf("invalid filter (%s)", expr))
	}

	cmp, err := cmpFromString(opStr)
	if err != nil {
		return nil, 0, "", err
	}

	fields := strings.Split(lhs, ".")
	nodes := make([]lhsNode, 0, len(fields))
	for i, f := range fields {
		first := i == 0
		elems := strings.Split(f, ":")
		member := elems[0]
		if member == "" {
			return nil, 0, "", newError(InvalidSyntax, "member is mandatory")
		}
		if first && member != rootType {
			return nil, 0, "", newError(InvalidSyntax, "starting struct isn't supported (not sk_buff)")
		}

		node := lhsNode{member: member}
		if len(elems) >= 2 {
			if first {
				return nil, 0, "", newError(InvalidSyntax, "initial type must be a base type only")
			}
			mask, err := parseMask(elems[1])
			if err != nil {
				return nil, 0, "", err
			}
			node.mask, node.hasMask = mask, true
		}
		if len(elems) >= 3 {
			node.tgtType, node.hasTgtType = elems[2], true
		}
		if len(elems) >= 4 {
			return nil, 0, "", newError(InvalidSyntax, "unexpected field expression (must be under the form field[:mask[:type]])")
		}

		nodes = append(nodes, node)
	}

	if len(nodes) <= 1 {
		return nil, 0, "", newError(InvalidSyntax, "expression does not point to a member")
	}

	return nodes, cmp, rhs, nil
}

// walkBTFNode searches t's members (t must be a Struct or Union) for name,
// recursing transparently through anonymous inner struct/union members, and
// returns the field's accumulated bit offset, optional bitfield width, and
// resolved type.
func walkBTFNode(t btf.Type, name string, offset uint32) (uint32, uint32, bool, btf.Type, bool) {
	var members []btf.Member
	switch v := t.(type) {
	case *btf.Struct:
		members = v.Members
	case *btf.Union:
		members = v.Members
	default:
		return 0, 0, false, nil, false
	}

	for _, m := range members {
		if m.Type == nil {
			continue
		}
		if m.Name == name {
			return offset + m.BitOffset, m.BitfieldSize, m.BitfieldSize > 0, m.Type, true
		}
		if m.Name == "" {
			switch m.Type.(type) {
			case *btf.Struct, *btf.Union:
				if o, bfs, hasBfs, ty, ok := walkBTFNode(m.Type, name, offset+m.BitOffset); ok {
					return o, bfs, hasBfs, ty, true
				}
				continue
			default:
				return 0, 0, false, nil, false
			}
		}
	}
	return 0, 0, false, nil, false
}

// checkOneWalkable classifies t for next-walkable purposes: true means t is
// itself a Struct/Union (ready to keep walking dotted fields into), false
// with ind incremented means t consumed one pointer hop (or, when casted, a
// pointer-sized integer standing in for one), false with ind unchanged means
// t is a transparent wrapper the caller should look straight through.
func checkOneWalkable(t btf.Type, ind *int, casted bool) (bool, error) {
	switch v := t.(type) {
	case *btf.Int:
		if casted && v.SizeBytes() == ptrSize {
			*ind++
			return false, nil
		}
		return false, newError(UnsupportedType, fmt.Sprintf("unexpected type (%s) while walking struct members", v.TypeName()))
	case *btf.Pointer:
		*ind++
		return false, nil
	case *btf.Struct, *btf.Union:
		return true, nil
	case *btf.Typedef, *btf.Volatile, *btf.Const, *btf.Restrict, *btf.DeclTag, *btf.TypeTag:
		return false, nil
	default:
		return false, newError(UnsupportedType, "unexpected type while walking struct members")
	}
}

// chainNext follows one transparent hop (pointer dereference or
// typedef/qualifier peel), matching the kernel BTF type_iter's notion of
// "the next type in this chain".
func chainNext(t btf.Type) (btf.Type, bool) {
	switch v := t.(type) {
	case *btf.Pointer:
		return v.Target, v.Target != nil
	case *btf.Typedef:
		return v.Target, v.Target != nil
	case *btf.Volatile:
		return v.Target, v.Target != nil
	case *btf.Const:
		return v.Target, v.Target != nil
	case *btf.Restrict:
		return v.Target, v.Target != nil
	case *btf.DeclTag:
		return v.Target, v.Target != nil
	case *btf.TypeTag:
		return v.Target, v.Target != nil
	default:
		return nil, false
	}
}

// nextWalkable counts pointer hops between t and the nearest walkable
// Struct/Union (or, when casted, the nearest walkable target counting a
// pointer-sized int as one hop), returning that hop count and the type
// found.
func nextWalkable(t btf.Type, casted bool) (int, btf.Type, error) {
	ind := 0
	walkable, err := checkOneWalkable(t, &ind, casted)
	if err != nil {
		return 0, nil, err
	}
	if walkable {
		return 0, t, nil
	}
	if casted {
		return ind, t, nil
	}

	cur := t
	for {
		nxt, ok := chainNext(cur)
		if !ok {
			break
		}
		cur = nxt
		walkable, err = checkOneWalkable(cur, &ind, casted)
		if err != nil {
			return 0, nil, err
		}
		if walkable {
			return ind, cur, nil
		}
	}
	return 0, nil, newError(UnknownType, "failed to retrieve next walkable object")
}

func emitLoadPtr(offsetBits uint32, mask uint64) Op {
	return Op{Offset: uint16(offsetBits / 8), Kind: ptrBit, Mask: mask}
}

// emitLoad walks t's own wrapper chain (pointer/typedef/qualifier hops) to
// classify the final, structurally meaningful type and builds the Load op
// that reads it at offset (bits) with the given bitfield width and mask.
func emitLoad(t btf.Type, offsetBits, bfSizeBits uint32, mask uint64) (Op, error) {
	var op Op
	cur := t

	for {
		switch v := cur.(type) {
		case *btf.Pointer:
			if op.IsPtr() {
				return Op{}, newError(UnsupportedType, fmt.Sprintf("pointers to %s are not supported", v.TypeName()))
			}
			op.Kind |= ptrBit
			nxt, ok := chainNext(cur)
			if !ok {
				return Op{}, newError(UnsupportedType, "found unsupported type while emitting operation")
			}
			cur = nxt
			continue

		case *btf.Array:
			if op.IsPtr() {
				return Op{}, newError(UnsupportedType, "pointers to arrays are not supported")
			}
			if v.Nelem > 255 {
				return Op{}, newError(UnsupportedType, "array too large")
			}
			op.Nmemb = uint8(v.Nelem)
			if v.Elem == nil {
				return Op{}, newError(UnsupportedType, "found unsupported type while emitting operation")
			}
			cur = v.Elem
			continue

		case *btf.Enum:
			if op.IsPtr() {
				return Op{}, newError(UnsupportedType, fmt.Sprintf("pointers to %s are not supported", v.TypeName()))
			}
			op.Kind |= typeInt
			if v.Signed {
				op.Kind |= signBit
			}
			goto terminal

		case *btf.Enum64:
			if op.IsPtr() {
				return Op{}, newError(UnsupportedType, fmt.Sprintf("pointers to %s are not supported", v.TypeName()))
			}
			op.Kind |= typeLong
			if v.Signed {
				op.Kind |= signBit
			}
			goto terminal

		case *btf.Int:
			if v.Signed {
				op.Kind |= signBit
			}
			switch v.SizeBytes() {
			case 8:
				op.Kind |= typeLong
			case 4:
				op.Kind |= typeInt
			case 2:
				op.Kind |= typeShort
			case 1:
				op.Kind |= typeChar
			default:
				return Op{}, newError(UnsupportedType, "unsupported integer width")
			}
			if !op.IsByte() {
				if op.IsArr() {
					return Op{}, newError(UnsupportedType, fmt.Sprintf("array of %s are not supported", v.TypeName()))
				}
				if op.IsPtr() {
					return Op{}, newError(UnsupportedType, fmt.Sprintf("pointers to %s are not supported", v.TypeName()))
				}
			}
			goto terminal

		case *btf.Typedef, *btf.Volatile, *btf.Const, *btf.Restrict, *btf.DeclTag, *btf.TypeTag:
			nxt, ok := chainNext(cur)
			if !ok {
				return Op{}, newError(UnsupportedType, "found unsupported type while emitting operation")
			}
			cur = nxt
			continue

		default:
			return Op{}, newError(UnsupportedType, "found unsupported type while emitting operation")
		}
	}

terminal:
	if mask > 0 {
		if op.IsPtr() || (op.IsNum() && !op.IsSigned()) {
			op.Mask = mask
		} else {
			return Op{}, newError(UnsupportedMask, "mask is only supported for pointers and unsigned numeric members")
		}
	}

	if bfSizeBits > 255 {
		return Op{}, newError(UnsupportedType, "bitfield too wide")
	}
	op.BitfieldSize = uint8(bfSizeBits)
	op.Offset = uint16(offsetBits)
	if bfSizeBits == 0 {
		op.Offset = uint16(offsetBits / 8)
	}

	return op, nil
}

func emitTarget(load Op, rv rval, cmp Cmp) (Op, error) {
	target := Op{IsTarget: true, Cmp: cmp}

	switch {
	case load.IsPtr() || load.IsArr():
		if cmp != CmpEq && cmp != CmpNe {
			return Op{}, newError(OperatorNotSupported, fmt.Sprintf("wrong comparison operator. only '%s' and '%s' are supported for strings", CmpEq, CmpNe))
		}
		if rv.kind != rvalStr {
			return Op{}, newError(RvalShape, "invalid target value for array or ptr type. only strings are supported")
		}
		if len(rv.val) >= TargetBufSize {
			return Op{}, newError(RvalShape, fmt.Sprintf("invalid rval size (max %d)", TargetBufSize-1))
		}
		copy(target.Bytes[:], rv.val)
		target.Size = uint8(len(rv.val))

	case load.IsNum():
		var value uint64
		switch rv.kind {
		case rvalDec:
			if strings.HasPrefix(rv.val, "-") {
				if !load.IsSigned() {
					return Op{}, newError(RvalRange, "invalid target value (value is signed while type is unsigned)")
				}
				n, err := strconv.ParseInt(rv.val, 10, 64)
				if err != nil {
					return Op{}, newError(RvalRange, "invalid decimal target value")
				}
				value = uint64(n)
			} else {
				n, err := strconv.ParseUint(rv.val, 10, 64)
				if err != nil {
					return Op{}, newError(RvalRange, "invalid decimal target value")
				}
				value = n
			}
		case rvalHex:
			n, err := strconv.ParseUint(rv.val, 16, 64)
			if err != nil {
				return Op{}, newError(RvalRange, "invalid hex target value")
			}
			value = n
		default:
			return Op{}, newError(RvalShape, "invalid target value (neither decimal nor hex)")
		}

		putUint64(target.Bytes[:8], value)

		switch {
		case load.IsByte():
			target.Size = 1
		case load.IsShort():
			target.Size = 2
		case load.IsInt():
			target.Size = 4
		case load.IsLong():
			target.Size = 8
		default:
			return Op{}, newError(UnsupportedType, "unexpected numeric type")
		}

	default:
		return Op{}, newError(UnsupportedType, "load target has no comparable shape")
	}

	return target, nil
}

// Compile parses a metadata filter expression and lowers it to a Program
// against db, the kernel's type database. The LHS must begin with sk_buff
// and name at least one field; a bare LHS with no comparison defaults to
// "!= 0". Pointer and char-array fields compare only against quoted
// strings, so a bare LHS naming one of them fails with RvalShape. See
// SPEC_FULL.md §6 for the cast decision.
func Compile(db *btf.DB, expr string) (Program, error) {
	fields, cmp, rhs, err := parseFilter(expr)
	if err != nil {
		return nil, err
	}

	root := fields[0]
	fields = fields[1:]

	types, err := db.ResolveByName(root.member)
	if err != nil {
		return nil, newError(UnknownType, fmt.Sprintf("unable to resolve %s data type: %v", root.member, err))
	}
	var curType btf.Type
	for _, t := range types {
		if t.Kind() == btf.KindStruct {
			curType = t
			break
		}
	}
	if curType == nil {
		return nil, newError(UnknownType, fmt.Sprintf("could not resolve %s to a struct", root.member))
	}

	var ops []Op
	var offt uint32
	var storedOffset uint32
	var storedBfSize uint32
	var mask uint64

	for pos, field := range fields {
		offset, bfs, hasBfs, snode, ok := walkBTFNode(curType, field.member, offt)
		if !ok {
			return nil, newError(FieldNotFound, fmt.Sprintf("field %s not found", field.member))
		}

		last := pos == len(fields)-1
		if !last {
			ind, x, err := nextWalkable(snode, field.hasTgtType)
			if err != nil {
				return nil, err
			}
			switch {
			case ind == 1:
				offt = 0
				ops = append(ops, emitLoadPtr(offset, field.mask))
			case ind > 1:
				return nil, newError(PointerOfPointer, "pointers of pointers are not supported")
			default:
				if field.hasMask {
					return nil, newError(UnsupportedMask, "intermediate members masking is only supported for pointers and unsigned numbers")
				}
				offt = offset
			}

			if field.hasTgtType {
				tgts, err := db.ResolveByName(field.tgtType)
				if err != nil {
					return nil, newError(UnknownType, fmt.Sprintf("unable to resolve data type: %s", field.tgtType))
				}
				var cast btf.Type
				for _, t := range tgts {
					switch t.Kind() {
					case btf.KindUnion, btf.KindStruct, btf.KindTypedef:
						cast = t
					}
					if cast != nil {
						break
					}
				}
				if cast == nil {
					return nil, newError(UnknownType, fmt.Sprintf("could not resolve %s to a struct or typedef", field.tgtType))
				}
				nw, resolved, err := nextWalkable(cast, false)
				if err != nil {
					return nil, err
				}
				if nw > 0 {
					return nil, newError(UnsupportedCast, fmt.Sprintf("cast type (%s) cannot be an alias to a pointer", field.tgtType))
				}
				curType = resolved
			} else {
				curType = x
			}
		} else {
			if field.hasTgtType {
				return nil, newError(UnsupportedCast, fmt.Sprintf("trying to cast a leaf member into %s", field.tgtType))
			}
			curType = snode
			mask = field.mask
		}

		storedOffset = offset
		if hasBfs {
			storedBfSize = bfs
		}
	}

	lmo, err := emitLoad(curType, storedOffset, storedBfSize, mask)
	if err != nil {
		return nil, err
	}
	ops = append(ops, lmo)

	target, err := emitTarget(lmo, parseRval(rhs), cmp)
	if err != nil {
		return nil, err
	}

	prog := make(Program, 0, len(ops)+1)
	prog = append(prog, target)
	prog = append(prog, ops...)

	if len(prog) > MaxOps {
		return nil, newError(ProgramTooLong, fmt.Sprintf("filter program exceeds %d ops", MaxOps))
	}
	return prog, nil
}

// putUint64 writes v in the host's native byte order, matching the encoding
// Op.MarshalBinary uses for Load.Mask: a Target's Bytes are memcmp'd against
// a Load'ed value of the same width, so both must share one byte order.
func putUint64(buf []byte, v uint64) {
	binary.NativeEndian.PutUint64(buf[:8], v)
}
