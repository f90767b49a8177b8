package discovery

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mash-protocol/commissioner/pkg/commissioning"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeCommissionableTXT creates TXT records for commissionable discovery.
func EncodeCommissionableTXT(info *CommissionableInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyDiscriminator:     strconv.FormatUint(uint64(info.Discriminator), 10),
		TXTKeyCommissioningMode: strconv.FormatUint(uint64(info.CommissioningMode), 10),
	}
	if info.VendorID != 0 {
		txt[TXTKeyVendorProduct] = fmt.Sprintf("%d+%d", info.VendorID, info.ProductID)
	}
	if info.DeviceName != "" {
		txt[TXTKeyDeviceName] = info.DeviceName
	}
	return txt
}

// DecodeCommissionableTXT parses commissionable TXT records into the
// discriminator, vendor, product and mode fields of a NodeRecord.
func DecodeCommissionableTXT(txt TXTRecordMap) (*commissioning.NodeRecord, error) {
	rec := &commissioning.NodeRecord{}

	dStr, ok := txt[TXTKeyDiscriminator]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyDiscriminator)
	}
	d, err := strconv.ParseUint(dStr, 10, 16)
	if err != nil || d > MaxDiscriminator {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDiscriminator, dStr)
	}
	rec.Discriminator = uint16(d)

	if vp, ok := txt[TXTKeyVendorProduct]; ok && vp != "" {
		vendor, product, _ := strings.Cut(vp, "+")
		v, err := strconv.ParseUint(vendor, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: VP %q", ErrInvalidTXTRecord, vp)
		}
		rec.VendorID = uint16(v)
		if product != "" {
			p, err := strconv.ParseUint(product, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("%w: VP %q", ErrInvalidTXTRecord, vp)
			}
			rec.ProductID = uint16(p)
		}
	}

	if cm, ok := txt[TXTKeyCommissioningMode]; ok && cm != "" {
		m, err := strconv.ParseUint(cm, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: CM %q", ErrInvalidTXTRecord, cm)
		}
		rec.CommissioningMode = uint8(m)
	}

	return rec, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if k == "" {
			continue
		}
		if !found {
			// Key without value (boolean flag)
			v = ""
		}
		txt[k] = v
	}
	return txt
}

// OperationalInstanceName returns the operational instance name of peer.
func OperationalInstanceName(peer commissioning.PeerID) string {
	return peer.String()
}

// ParseOperationalInstanceName splits "<fabric>-<node>" into a PeerID.
func ParseOperationalInstanceName(name string) (commissioning.PeerID, error) {
	fabric, node, ok := strings.Cut(name, "-")
	if !ok || len(fabric) != IDLength || len(node) != IDLength {
		return commissioning.PeerID{}, fmt.Errorf("%w: %q", ErrInvalidInstanceName, name)
	}
	f, err := strconv.ParseUint(fabric, 16, 64)
	if err != nil {
		return commissioning.PeerID{}, fmt.Errorf("%w: %q", ErrInvalidInstanceName, name)
	}
	n, err := strconv.ParseUint(node, 16, 64)
	if err != nil {
		return commissioning.PeerID{}, fmt.Errorf("%w: %q", ErrInvalidInstanceName, name)
	}
	return commissioning.PeerID{CompressedFabricID: f, NodeID: commissioning.NodeID(n)}, nil
}

// RandomInstanceName returns 16 random upper-case hex digits.
func RandomInstanceName() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b[:])), nil
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidInstanceName)
	}
	if len(name) > MaxInstanceNameLen {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidInstanceName, MaxInstanceNameLen)
	}
	return nil
}
