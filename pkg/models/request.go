package models

// RequestKind is the routing class of an intercepted request.
type RequestKind int

const (
	KindOther RequestKind = iota
	KindDocument
	KindLoader
	KindAsset
)

func (k RequestKind) String() string {
	switch k {
	case KindDocument:
		return "document"
	case KindLoader:
		return "loader"
	case KindAsset:
		return "asset"
	default:
		return "other"
	}
}
