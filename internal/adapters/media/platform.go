package media

// mobileOS reports targets where display capture is never offered.
func mobileOS(goos string) bool {
	switch goos {
	case "android", "ios":
		return true
	default:
		return false
	}
}
