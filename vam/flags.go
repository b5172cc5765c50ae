package vam

type suballocationType uint32

const (
	suballocationFree suballocationType = iota
	suballocationBuffer
	suballocationImage
)

var suballocationTypeMapping = make(map[suballocationType]string)

func (t suballocationType) String() string {
	return suballocationTypeMapping[t]
}

func init() {
	suballocationTypeMapping[suballocationFree] = "FREE"
	suballocationTypeMapping[suballocationBuffer] = "BUFFER"
	suballocationTypeMapping[suballocationImage] = "IMAGE_OPTIMAL"
}
