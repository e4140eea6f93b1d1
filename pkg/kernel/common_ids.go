package kernel

// IdentityID is the opaque, stable id the identity provider assigns to a user.
// An ApplicationProfile's id is always an IdentityID.
type IdentityID string

func NewIdentityID(id string) IdentityID { return IdentityID(id) }
func (i IdentityID) String() string      { return string(i) }
func (i IdentityID) IsEmpty() bool       { return string(i) == "" }
