//go:build !unix

package storage

// Windows ACLs are left to the user profile directory the files live in.
func checkFilePermissions(path string) error {
	return nil
}

func setFilePermissions(path string) error {
	return nil
}
