package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// SentinelGrantID is the grant id reported for forwards that have no
// per-grant accounting.
const SentinelGrantID = int64(0)

// ServiceKey is the composite identifier reporting nodes attach to every
// forwarding service: <forwardID>_<userID>_<grantID>.
type ServiceKey struct {
	ForwardID int64
	UserID    int64
	GrantID   int64
}

// ParseServiceKey decomposes a reported service name into its three
// identifiers. It returns [ErrMalformedServiceKey] unless the key has
// exactly three numeric fields.
func ParseServiceKey(name string) (ServiceKey, error) {
	parts := strings.Split(name, "_")
	if len(parts) != 3 {
		return ServiceKey{}, fmt.Errorf("%w: %q", ErrMalformedServiceKey, name)
	}
	ids := make([]int64, 3)
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return ServiceKey{}, fmt.Errorf("%w: %q", ErrMalformedServiceKey, name)
		}
		ids[i] = n
	}
	return ServiceKey{ForwardID: ids[0], UserID: ids[1], GrantID: ids[2]}, nil
}

// BuildServiceKey composes the service name for a forward, user, grant
// triple. The grant id may be [SentinelGrantID].
func BuildServiceKey(forwardID, userID, grantID int64) string {
	return strconv.FormatInt(forwardID, 10) + "_" +
		strconv.FormatInt(userID, 10) + "_" +
		strconv.FormatInt(grantID, 10)
}

// String renders the key in its wire form.
func (k ServiceKey) String() string {
	return BuildServiceKey(k.ForwardID, k.UserID, k.GrantID)
}

// HasGrant reports whether the key references a real grant rather than the
// sentinel.
func (k ServiceKey) HasGrant() bool {
	return k.GrantID != SentinelGrantID
}
