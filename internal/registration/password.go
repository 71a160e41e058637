package registration

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// PasswordPolicy is the strength policy applied to new passwords.
type PasswordPolicy struct {
	MinLength int
}

var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {}, "motdepasse": {},
	"azerty": {}, "azertyuiop": {}, "qwerty": {}, "qwertyuiop": {},
	"12345678": {}, "123456789": {}, "1234567890": {}, "11111111": {},
	"iloveyou": {}, "sunshine": {}, "princess": {}, "football": {},
	"baseball": {}, "welcome1": {}, "abc12345": {}, "letmein1": {},
	"bonjour1": {}, "soleil123": {}, "electruc": {}, "admin123": {},
}

// Check returns the reasons password is rejected, or nil.
func (p PasswordPolicy) Check(password, email string) []string {
	var problems []string

	if utf8.RuneCountInString(password) < p.MinLength {
		problems = append(problems, fmt.Sprintf("Ce mot de passe est trop court. Il doit contenir au minimum %d caractères.", p.MinLength))
	}

	if password != "" && strings.IndexFunc(password, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		problems = append(problems, "Ce mot de passe est entièrement numérique.")
	}

	if _, ok := commonPasswords[strings.ToLower(password)]; ok {
		problems = append(problems, "Ce mot de passe est trop courant.")
	}

	if similarToEmail(password, email) {
		problems = append(problems, "Le mot de passe est trop semblable à l'adresse e-mail.")
	}

	return problems
}

func similarToEmail(password, email string) bool {
	local, _, _ := strings.Cut(strings.ToLower(email), "@")
	pw := strings.ToLower(password)
	if len(local) < 3 || pw == "" {
		return false
	}
	squash := strings.NewReplacer(".", "", "_", "", "-", "", "+", "")
	local, pw = squash.Replace(local), squash.Replace(pw)
	return strings.Contains(pw, local) || strings.Contains(local, pw)
}
