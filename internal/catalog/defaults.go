package catalog

// Defaults returns the stock event types: shop, forum, announcement and group.
// Owners hold every permission of their type; the other roles receive a
// narrowing subset.
func Defaults() Catalog {
	return Catalog{
		EventTypes: []Definition{
			{
				Slug:        "shop",
				Name:        "Shop",
				Description: "E-commerce shop",
				Roles:       []string{"owner", "manager", "staff", "customer"},
				Permissions: []string{
					"view shop",
					"edit shop",
					"delete shop",
					"manage products",
					"manage orders",
					"manage staff",
					"view reports",
					"manage settings",
				},
				Grants: map[string][]string{
					"owner":    {WildcardGrant},
					"manager":  {"view shop", "edit shop", "manage products", "manage orders", "view reports"},
					"staff":    {"view shop", "manage orders"},
					"customer": {"view shop"},
				},
			},
			{
				Slug:        "forum",
				Name:        "Forum",
				Description: "Discussion forum",
				Roles:       []string{"owner", "moderator", "member", "guest"},
				Permissions: []string{
					"view forum",
					"edit forum",
					"delete forum",
					"create topics",
					"edit topics",
					"delete topics",
					"create replies",
					"edit replies",
					"delete replies",
					"manage members",
					"moderate content",
					"pin topics",
					"lock topics",
				},
				Grants: map[string][]string{
					"owner": {WildcardGrant},
					"moderator": {
						"view forum", "create topics", "edit topics", "delete topics",
						"create replies", "edit replies", "delete replies",
						"moderate content", "pin topics", "lock topics",
					},
					"member": {"view forum", "create topics", "create replies"},
					"guest":  {"view forum"},
				},
			},
			{
				Slug:        "announcement",
				Name:        "Announcement",
				Description: "Announcement board",
				Roles:       []string{"owner", "editor", "viewer"},
				Permissions: []string{
					"view announcements",
					"create announcements",
					"edit announcements",
					"delete announcements",
					"publish announcements",
					"schedule announcements",
				},
				Grants: map[string][]string{
					"owner": {WildcardGrant},
					"editor": {
						"view announcements", "create announcements", "edit announcements",
						"publish announcements", "schedule announcements",
					},
					"viewer": {"view announcements"},
				},
			},
			{
				Slug:        "group",
				Name:        "Group",
				Description: "User group or community",
				Roles:       []string{"owner", "admin", "moderator", "member"},
				Permissions: []string{
					"view group",
					"edit group",
					"delete group",
					"invite members",
					"remove members",
					"manage posts",
					"manage events",
					"manage settings",
				},
				Grants: map[string][]string{
					"owner": {WildcardGrant},
					"admin": {
						"view group", "edit group", "invite members", "remove members",
						"manage posts", "manage events", "manage settings",
					},
					"moderator": {"view group", "remove members", "manage posts"},
					"member":    {"view group"},
				},
			},
		},
	}
}
