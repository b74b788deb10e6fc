package domain

type User struct {
	ID    string   `db:"id" json:"id"`
	Email string   `db:"email" json:"email"`
	Name  string   `db:"name" json:"name"`
	Hash  string   `db:"password_hash" json:"-"`
	Roles []string `db:"-" json:"roles"`
}

func (u *User) HasRole(role string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
