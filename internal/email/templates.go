package email

import (
	"fmt"
	"strings"

	"dripline/internal/types"
)

// htmlEscaper escapes the characters that would let caller-supplied text
// inject markup into a rendered email body. Every template interpolating
// untrusted props must route the value through escapeHTML.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

func escapeHTML(text string) string {
	return htmlEscaper.Replace(text)
}

// DefaultRegistry returns the registry of built-in transactional templates.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("followUpNoApiKey", followUpNoAPIKey)
	r.Register("followUpNoMessages", followUpNoMessages)
	r.Register("welcome", welcome)
	return r
}

// followUpNoAPIKey nudges users who signed up but never generated an API key.
// Props: firstName (optional), dashboardUrl.
var followUpNoAPIKey = Template{
	Subject: func(types.Props) string {
		return "need a hand getting started?"
	},
	HTML: func(props types.Props) string {
		name := escapeHTML(props.String("firstName", "there"))
		dashboardURL := escapeHTML(props.String("dashboardUrl", "https://app.dripline.dev"))
		return fmt.Sprintf(`
			<p>hi %s,</p>
			<p>we noticed you haven&#39;t generated an API key yet. here&#39;s the fastest way to send your first scheduled email:</p>
			<ol>
				<li>open your dashboard &rarr; <a href="%s">%s</a></li>
				<li>click &quot;create API key&quot;</li>
				<li>POST your first schedule with the key in the Authorization header</li>
			</ol>
			<p>questions? just reply and we&#39;ll jump in.</p>
			<p>&mdash; the dripline team</p>
		`, name, dashboardURL, dashboardURL)
	},
}

// followUpNoMessages nudges users whose API key exists but has sent nothing.
// Props: firstName (optional).
var followUpNoMessages = Template{
	Subject: func(types.Props) string {
		return "ready to see it in action?"
	},
	HTML: func(props types.Props) string {
		name := escapeHTML(props.String("firstName", "there"))
		return fmt.Sprintf(`
			<p>hi %s,</p>
			<p>looks like your API key is set, but no emails have gone out yet.</p>
			<p>if you&#39;d like a quick walkthrough or help wiring up your first schedule, grab a slot on our calendar: <a href="https://cal.dripline.dev/onboarding">https://cal.dripline.dev/onboarding</a></p>
			<p>talk soon!</p>
			<p>&mdash; the dripline team</p>
		`, name)
	},
}

// welcome greets a newly registered user.
// Props: firstName (optional), loginUrl (optional).
var welcome = Template{
	Subject: func(types.Props) string {
		return "welcome to dripline"
	},
	HTML: func(props types.Props) string {
		name := escapeHTML(props.String("firstName", "there"))
		loginURL := escapeHTML(props.String("loginUrl", "https://app.dripline.dev/login"))
		return fmt.Sprintf(`
			<p>hi %s,</p>
			<p>welcome to dripline! we&#39;re excited to have you on board.</p>
			<p>here are some things you can do to get started:</p>
			<ul>
				<li>explore the dashboard and create your first schedule</li>
				<li>check out the documentation for guides and examples</li>
				<li>join the community chat for support and discussions</li>
			</ul>
			<p><a href="%s">open your dashboard</a></p>
			<p>&mdash; the dripline team</p>
		`, name, loginURL)
	},
}
