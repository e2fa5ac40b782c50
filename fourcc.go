// Package bmff implements a bit-exact codec for ISO Base Media File
// Format (ISO/IEC 14496-12) boxes: box framing, a catalog of concrete
// box and descriptor types, and the codec-configuration records for
// AVC, HEVC, VP9, AV1, Opus, AAC and FLAC.
package bmff

// BoxType is a 4-byte box type identifier (FourCC).
type BoxType [4]byte

func (t BoxType) String() string { return string(t[:]) }

// typeUUID marks an extended-type box: the 4 literal bytes "uuid"
// followed by a 16-byte extended type.
var typeUUID = BoxType{'u', 'u', 'i', 'd'}

// Structural / file-level box types.
var (
	TypeFtyp = BoxType{'f', 't', 'y', 'p'}
	TypeStyp = BoxType{'s', 't', 'y', 'p'}
	TypeFree = BoxType{'f', 'r', 'e', 'e'}
	TypeSkip = BoxType{'s', 'k', 'i', 'p'}
	TypeMdat = BoxType{'m', 'd', 'a', 't'}
	TypeMoov = BoxType{'m', 'o', 'o', 'v'}
	TypeMoof = BoxType{'m', 'o', 'o', 'f'}
	TypeMfra = BoxType{'m', 'f', 'r', 'a'}
	TypeSidx = BoxType{'s', 'i', 'd', 'x'}
)

// Movie structure boxes (moov and children).
var (
	TypeMvhd = BoxType{'m', 'v', 'h', 'd'}
	TypeTrak = BoxType{'t', 'r', 'a', 'k'}
	TypeTkhd = BoxType{'t', 'k', 'h', 'd'}
	TypeTref = BoxType{'t', 'r', 'e', 'f'}
	TypeTrgr = BoxType{'t', 'r', 'g', 'r'}
	TypeEdts = BoxType{'e', 'd', 't', 's'}
	TypeElst = BoxType{'e', 'l', 's', 't'}
	TypeMdia = BoxType{'m', 'd', 'i', 'a'}
	TypeMdhd = BoxType{'m', 'd', 'h', 'd'}
	TypeHdlr = BoxType{'h', 'd', 'l', 'r'}
	TypeMinf = BoxType{'m', 'i', 'n', 'f'}
	TypeVmhd = BoxType{'v', 'm', 'h', 'd'}
	TypeSmhd = BoxType{'s', 'm', 'h', 'd'}
	TypeDinf = BoxType{'d', 'i', 'n', 'f'}
	TypeDref = BoxType{'d', 'r', 'e', 'f'}
	TypeUrl  = BoxType{'u', 'r', 'l', ' '}
)

// Sample table boxes (stbl children).
var (
	TypeStbl = BoxType{'s', 't', 'b', 'l'}
	TypeStsd = BoxType{'s', 't', 's', 'd'}
	TypeStts = BoxType{'s', 't', 't', 's'}
	TypeCtts = BoxType{'c', 't', 't', 's'}
	TypeStsc = BoxType{'s', 't', 's', 'c'}
	TypeStsz = BoxType{'s', 't', 's', 'z'}
	TypeStz2 = BoxType{'s', 't', 'z', '2'}
	TypeStco = BoxType{'s', 't', 'c', 'o'}
	TypeCo64 = BoxType{'c', 'o', '6', '4'}
	TypeStss = BoxType{'s', 't', 's', 's'}
)

// Fragment boxes (moof and children, mvex).
var (
	TypeMvex = BoxType{'m', 'v', 'e', 'x'}
	TypeMehd = BoxType{'m', 'e', 'h', 'd'}
	TypeTrex = BoxType{'t', 'r', 'e', 'x'}
	TypeMfhd = BoxType{'m', 'f', 'h', 'd'}
	TypeTraf = BoxType{'t', 'r', 'a', 'f'}
	TypeTfhd = BoxType{'t', 'f', 'h', 'd'}
	TypeTfdt = BoxType{'t', 'f', 'd', 't'}
	TypeTrun = BoxType{'t', 'r', 'u', 'n'}
)

// Sample entry boxes (children of stsd) and their codec-configuration children.
var (
	TypeAvc1 = BoxType{'a', 'v', 'c', '1'}
	TypeAvc3 = BoxType{'a', 'v', 'c', '3'}
	TypeAvcC = BoxType{'a', 'v', 'c', 'C'}
	TypeHev1 = BoxType{'h', 'e', 'v', '1'}
	TypeHvc1 = BoxType{'h', 'v', 'c', '1'}
	TypeHvcC = BoxType{'h', 'v', 'c', 'C'}
	TypeVp08 = BoxType{'v', 'p', '0', '8'}
	TypeVp09 = BoxType{'v', 'p', '0', '9'}
	TypeVpcC = BoxType{'v', 'p', 'c', 'C'}
	TypeAv01 = BoxType{'a', 'v', '0', '1'}
	TypeAv1C = BoxType{'a', 'v', '1', 'C'}
	TypeMp4a = BoxType{'m', 'p', '4', 'a'}
	TypeEsds = BoxType{'e', 's', 'd', 's'}
	TypeOpus = BoxType{'o', 'p', 'u', 's'}
	TypeDOps = BoxType{'d', 'O', 'p', 's'}
	TypeFLaC = BoxType{'f', 'L', 'a', 'C'}
	TypeDfLa = BoxType{'d', 'f', 'L', 'a'}
)

// isFullBox reports whether t's payload begins with a version byte and
// a 24-bit flags field.
func isFullBox(t BoxType) bool {
	switch t {
	case TypeMvhd, TypeTkhd, TypeMdhd, TypeHdlr,
		TypeVmhd, TypeSmhd, TypeDref, TypeUrl, TypeStsd,
		TypeStts, TypeCtts, TypeStsc, TypeStsz, TypeStz2,
		TypeStco, TypeCo64, TypeStss, TypeElst,
		TypeEsds, TypeMehd, TypeTrex,
		TypeMfhd, TypeTfhd, TypeTfdt, TypeTrun, TypeSidx,
		TypeVpcC, TypeDfLa:
		return true
	}
	return false
}
