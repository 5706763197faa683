package licence

import (
	"fmt"
	"strconv"
	"strings"

	"licence-server-go/internal/domain/licence/model"
	"licence-server-go/internal/platform/errors"
)

const daySeconds int64 = 86400

var unitSeconds = map[byte]int64{
	'd': daySeconds,
	'w': 7 * daySeconds,
	'm': 30 * daySeconds,
	'y': 365 * daySeconds,
}

// ParseOption 解析管理端的时长选项：<n>d/<n>w/<n>m/<n>y 或 permanent/forever/永久。
// permanent 为 true 时 seconds 无意义。
func ParseOption(option string) (seconds int64, permanent bool, err error) {
	opt := strings.ToLower(strings.TrimSpace(option))
	switch opt {
	case "permanent", "forever", "永久":
		return 0, true, nil
	case "":
		return 0, false, errors.Domain("licence.parse_option", "empty duration option", errors.ErrInvalidArgument)
	}

	unit, ok := unitSeconds[opt[len(opt)-1]]
	if !ok {
		return 0, false, errors.Domain("licence.parse_option", fmt.Sprintf("unknown duration unit in %q", option), errors.ErrInvalidArgument)
	}
	n, convErr := strconv.ParseInt(opt[:len(opt)-1], 10, 64)
	if convErr != nil || n <= 0 {
		return 0, false, errors.Domain("licence.parse_option", fmt.Sprintf("invalid duration count in %q", option), errors.ErrInvalidArgument)
	}
	if n > model.PermanentExpiry/unit {
		return 0, true, nil
	}
	return n * unit, false, nil
}

// ExpiryFor 由选项计算从 now 起的过期时间
func ExpiryFor(option string, now int64) (int64, error) {
	seconds, permanent, err := ParseOption(option)
	if err != nil {
		return 0, err
	}
	if permanent {
		return model.PermanentExpiry, nil
	}
	return model.SaturatingAdd(now, seconds), nil
}
