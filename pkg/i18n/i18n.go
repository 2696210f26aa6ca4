package i18n

import (
	"strings"
	"sync/atomic"
)

var locale atomic.Value

func init() {
	locale.Store("en")
}

var translations = map[string]string{
	"invalid request":                          "درخواست نامعتبر است",
	"invalid id":                               "شناسه نامعتبر است",
	"unauthorized":                             "دسترسی غیرمجاز",
	"missing authorization token":              "توکن احراز هویت ارسال نشده است",
	"invalid token":                            "توکن نامعتبر است",
	"user not synced":                          "حساب کاربری هنوز همگام سازی نشده است",
	"failed to validate user":                  "خطا در اعتبارسنجی کاربر",
	"user not found":                           "کاربر یافت نشد",
	"conversation not found":                   "مکالمه یافت نشد",
	"message not found":                        "پیام یافت نشد",
	"not a participant":                        "شما عضو این مکالمه نیستید",
	"can only delete own messages":             "فقط پیام های خودتان قابل حذف است",
	"content is required":                      "متن پیام الزامی است",
	"invalid message type":                     "نوع پیام نامعتبر است",
	"emoji is required":                        "ایموجی الزامی است",
	"group name is required":                   "نام گروه الزامی است",
	"cannot create conversation with yourself": "نمی توانید با خودتان مکالمه ایجاد کنید",
	"identity key is required":                 "شناسه هویت الزامی است",
	"email is required":                        "ایمیل الزامی است",
	"read receipt not found":                   "رسید خواندن یافت نشد",
	"email already in use":                     "این ایمیل قبلا ثبت شده است",
	"invalid webhook signature":                "امضای وب هوک نامعتبر است",
	"unknown webhook event":                    "رویداد وب هوک ناشناخته است",
	"push notifications disabled":              "اعلان ها غیرفعال است",
	"invalid subscription":                     "اشتراک نامعتبر است",
	"failed to fetch users":                    "خطا در دریافت کاربران",
	"failed to fetch conversations":            "خطا در دریافت مکالمه ها",
	"failed to fetch messages":                 "خطا در دریافت پیام ها",
	"failed to send message":                   "خطا در ارسال پیام",
	"failed to save subscription":              "خطا در ذخیره اشتراک",
	"websocket upgrade failed":                 "خطا در برقراری اتصال وب سوکت",
	"rate limiter error":                       "خطا در محدودسازی درخواست ها",
	"rate limit exceeded":                      "تعداد درخواست ها بیش از حد مجاز است",
	"internal server error":                    "خطای داخلی سرور",
	"not found":                                "یافت نشد",
}

var prefixTranslations = map[string]string{
	"failed to parse token:":     "توکن نامعتبر است",
	"unexpected signing method:": "روش امضای توکن نامعتبر است",
	"invalid token claims:":      "توکن نامعتبر است",
}

// SetLocale selects the output language. Only "fa" has translations;
// any other value returns messages unchanged.
func SetLocale(l string) {
	locale.Store(strings.ToLower(strings.TrimSpace(l)))
}

func Translate(message string) string {
	if locale.Load() != "fa" {
		return message
	}
	if translated, ok := translations[message]; ok {
		return translated
	}
	for prefix, translated := range prefixTranslations {
		if strings.HasPrefix(message, prefix) {
			return translated
		}
	}
	return message
}
