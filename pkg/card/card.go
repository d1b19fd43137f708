package card

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	MinNumberLength = 13
	MaxNumberLength = 19
	MaxYearsAhead   = 20
)

const (
	ErrMsgNumberLength = "卡号长度必须在13到19位之间"
	ErrMsgNumberDigits = "卡号只能包含数字"
	ErrMsgChecksum     = "卡号校验失败"
	ErrMsgMonth        = "有效期月份必须在1到12之间"
	ErrMsgYear         = "有效期年份无效"
	ErrMsgCVC          = "CVC 必须为3到4位"
)

// Result 校验结果，Errors 为空时 IsValid 为 true
type Result struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

// Validate 校验卡片输入
// 每条规则独立检查，收集所有错误，不会遇到第一个就返回
func Validate(number, expMonth, expYear, cvc string, now time.Time) Result {
	errs := make([]string, 0)

	num := Clean(number)
	lengthOK := len(num) >= MinNumberLength && len(num) <= MaxNumberLength
	if !lengthOK {
		errs = append(errs, ErrMsgNumberLength)
	}
	digitsOK := isDigits(num)
	if !digitsOK {
		errs = append(errs, ErrMsgNumberDigits)
	}
	// 长度和字符都合法时才有必要算校验位
	if lengthOK && digitsOK && !Luhn(num) {
		errs = append(errs, ErrMsgChecksum)
	}

	month, err := strconv.Atoi(strings.TrimSpace(expMonth))
	if err != nil || month < 1 || month > 12 {
		errs = append(errs, ErrMsgMonth)
	}

	currentYear := now.Year()
	year, err := strconv.Atoi(strings.TrimSpace(expYear))
	if err != nil || year < currentYear || year > currentYear+MaxYearsAhead {
		errs = append(errs, ErrMsgYear)
	}

	if l := len(strings.TrimSpace(cvc)); l < 3 || l > 4 {
		errs = append(errs, ErrMsgCVC)
	}

	return Result{
		IsValid: len(errs) == 0,
		Errors:  errs,
	}
}

// ValidateNow 以当前时间为基准校验
func ValidateNow(number, expMonth, expYear, cvc string) Result {
	return Validate(number, expMonth, expYear, cvc, time.Now())
}

// Clean 去掉卡号里的空格和横线
func Clean(number string) string {
	n := strings.ReplaceAll(number, " ", "")
	return strings.ReplaceAll(n, "-", "")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Luhn 标准 Mod 10 校验，非数字输入直接返回 false
func Luhn(number string) bool {
	if !isDigits(number) {
		return false
	}
	sum := 0
	alternate := false
	for i := len(number) - 1; i >= 0; i-- {
		n := int(number[i] - '0')
		if alternate {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alternate = !alternate
	}
	return sum%10 == 0
}

type Brand string

const (
	Visa       Brand = "VISA"
	Mastercard Brand = "MASTERCARD"
	Amex       Brand = "AMEX"
	Unknown    Brand = "UNKNOWN"
)

var (
	visaRegex   = regexp.MustCompile(`^4[0-9]{12}(?:[0-9]{3}|[0-9]{6})?$`)
	masterRegex = regexp.MustCompile(`^(?:5[1-5][0-9]{2}|222[1-9]|22[3-9][0-9]|2[3-6][0-9]{2}|27[01][0-9]|2720)[0-9]{12}$`)
	amexRegex   = regexp.MustCompile(`^3[47][0-9]{13}$`)
)

// DetectBrand 按卡号前缀识别卡组织，不做校验位检查
func DetectBrand(number string) Brand {
	num := Clean(number)
	switch {
	case visaRegex.MatchString(num):
		return Visa
	case masterRegex.MatchString(num):
		return Mastercard
	case amexRegex.MatchString(num):
		return Amex
	default:
		return Unknown
	}
}
