package ast

import (
	"strconv"
	"strings"
)

// Mangle returns the compact type signature used to recognize well-known
// library functions by signature as well as by name.
func Mangle(t Type) string {
	var sb strings.Builder
	mangleTo(&sb, t)
	return sb.String()
}

func mangleTo(sb *strings.Builder, t Type) {
	switch tt := t.(type) {
	case nil, Tvoid:
		sb.WriteByte('v')
	case Tbool:
		sb.WriteByte('b')
	case Tint:
		codes := [2][4]byte{{'g', 's', 'i', 'l'}, {'h', 't', 'k', 'm'}}
		sb.WriteByte(codes[tt.Sign][tt.Size])
	case Tchar:
		sb.WriteByte("auw"[tt.Size])
	case Tfloat:
		sb.WriteByte("fde"[tt.Size])
	case Timaginary:
		sb.WriteByte("opj"[tt.Size])
	case Tcomplex:
		sb.WriteByte("qrc"[tt.Size])
	case Tnull:
		sb.WriteString("n")
	case Tpointer:
		sb.WriteByte('P')
		mangleTo(sb, tt.Elem)
	case Tdarray:
		sb.WriteByte('A')
		mangleTo(sb, tt.Elem)
	case Tsarray:
		sb.WriteByte('G')
		sb.WriteString(strconv.FormatInt(tt.Len, 10))
		mangleTo(sb, tt.Elem)
	case Taarray:
		sb.WriteByte('H')
		mangleTo(sb, tt.Key)
		mangleTo(sb, tt.Value)
	case Tstruct:
		sb.WriteByte('S')
		mangleName(sb, tt.String())
	case Tclass:
		sb.WriteByte('C')
		mangleName(sb, tt.String())
	case Tinstance:
		sb.WriteByte('C')
		mangleName(sb, Tclass(tt).String())
	case Tdelegate:
		sb.WriteByte('D')
		mangleTo(sb, *tt.Func)
	case Tfunction:
		sb.WriteByte('F')
		if tt.IsRef {
			sb.WriteString("Nc")
		}
		for _, p := range tt.Params {
			switch {
			case p.Storage&STCout != 0:
				sb.WriteByte('J')
			case p.Storage&STCref != 0:
				sb.WriteByte('K')
			case p.Storage&STClazy != 0:
				sb.WriteByte('L')
			}
			mangleTo(sb, p.Type)
		}
		if tt.Variadic {
			sb.WriteByte('X')
		} else {
			sb.WriteByte('Z')
		}
		mangleTo(sb, tt.Return)
	case Ttuple:
		sb.WriteByte('B')
		sb.WriteString(strconv.Itoa(len(tt.Elems)))
		for _, e := range tt.Elems {
			mangleTo(sb, e)
		}
	}
}

func mangleName(sb *strings.Builder, name string) {
	sb.WriteString(strconv.Itoa(len(name)))
	sb.WriteString(name)
}
