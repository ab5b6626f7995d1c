// Package classifier labels raw not-found requests. Everything here is a
// best-effort heuristic over static signature lists.
package classifier

import (
	"path"
	"strings"

	"github.com/smartdevs17/notfound-triage/internal/models"
)

// Crawler signatures, matched as lowercase substrings of the user agent.
var botSignatures = []string{
	"googlebot", "adsbot-google", "mediapartners-google", "bingbot", "bingpreview",
	"slurp", "duckduckbot", "baiduspider", "yandex", "sogou", "exabot",
	"facebot", "facebookexternalhit", "ia_archiver", "ahrefsbot", "semrushbot",
	"mj12bot", "dotbot", "petalbot", "applebot", "twitterbot", "linkedinbot",
	"pinterest", "slackbot", "discordbot", "telegrambot", "whatsapp",
	"gptbot", "ccbot", "claudebot", "bytespider", "amazonbot", "seznambot",
	"uptimerobot", "pingdom", "headlesschrome", "phantomjs", "python-requests",
	"python-urllib", "go-http-client", "curl/", "wget/", "libwww-perl",
	"java/", "okhttp", "scrapy", "httpclient", "crawler", "spider", "bot/", "bot;",
}

var tabletSignatures = []string{
	"ipad", "tablet", "kindle", "silk/", "playbook", "nexus 7", "nexus 10", "sm-t",
}

var mobileSignatures = []string{
	"mobi", "iphone", "ipod", "android", "blackberry", "bb10", "opera mini",
	"windows phone", "iemobile", "webos",
}

// Extensions nobody requests on purpose: executables, scripts, configs, dumps.
var spamExtensions = map[string]struct{}{
	".exe": {}, ".dll": {}, ".bat": {}, ".cmd": {}, ".sh": {}, ".cgi": {},
	".pl": {}, ".py": {}, ".asp": {}, ".aspx": {}, ".jsp": {}, ".env": {},
	".ini": {}, ".cfg": {}, ".conf": {}, ".config": {}, ".bak": {}, ".old": {},
	".orig": {}, ".swp": {}, ".sql": {}, ".db": {}, ".sqlite": {}, ".log": {},
	".git": {}, ".svn": {}, ".htaccess": {}, ".htpasswd": {}, ".yml": {},
	".yaml": {}, ".tar": {}, ".gz": {}, ".zip": {}, ".rar": {}, ".7z": {},
	".DS_Store": {},
}

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {},
	".bmp": {}, ".ico": {}, ".tif": {}, ".tiff": {}, ".avif": {}, ".heic": {},
}

// Classify labels a request. It never fails; unknown input yields a
// non-bot desktop request with no extension category.
func Classify(requestPath, userAgent string) models.Classification {
	isBot, device := ClassifyUserAgent(userAgent)
	return models.Classification{
		IsBot:     isBot,
		Device:    device,
		Extension: ExtensionCategory(requestPath),
	}
}

// ClassifyUserAgent reports whether ua belongs to a crawler and which device
// label applies.
func ClassifyUserAgent(ua string) (bool, string) {
	lower := strings.ToLower(ua)
	if lower == "" {
		return false, models.DeviceDesktop
	}
	if containsAny(lower, botSignatures) {
		return true, models.DeviceBot
	}
	if containsAny(lower, tabletSignatures) {
		return false, models.DeviceTablet
	}
	// Android tablets omit "mobile" from their UA.
	if strings.Contains(lower, "android") && !strings.Contains(lower, "mobile") {
		return false, models.DeviceTablet
	}
	if containsAny(lower, mobileSignatures) {
		return false, models.DeviceMobile
	}
	return false, models.DeviceDesktop
}

// ExtensionCategory returns the category of the trailing extension of p.
func ExtensionCategory(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := path.Ext(p)
	if ext == "" {
		return models.ExtensionNone
	}
	if _, ok := spamExtensions[ext]; ok {
		return models.ExtensionSpam
	}
	ext = strings.ToLower(ext)
	if _, ok := spamExtensions[ext]; ok {
		return models.ExtensionSpam
	}
	if _, ok := imageExtensions[ext]; ok {
		return models.ExtensionImage
	}
	return models.ExtensionNone
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
