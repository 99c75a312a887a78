package mcpserver

const guideURI = "pressroom://article-guide"

// ArticleGuide describes article fields and the publishing lifecycle for
// LLM consumers.
const ArticleGuide = `# Pressroom Article Guide

## Fields

| Field             | Required | Notes                                                   |
|-------------------|----------|---------------------------------------------------------|
| title             | yes      | Plain text, at most 500 characters.                     |
| contentHtml       | no       | Body as HTML. Word count is computed from it.           |
| topic             | no       | Free-form category.                                     |
| slug              | no       | URL slug; lowercase, kebab-case.                        |
| metaTitle         | no       | SEO title.                                              |
| metaDescription   | no       | Used as the post excerpt. Otherwise the first ~55 words |
|                   |          | of the body are used.                                   |
| keywords          | no       | Comma-separated; each becomes a post tag on the CMS.    |

## Lifecycle

    draft ──▶ scheduled ──▶ published
      └────────────────────────▲

1. New articles start as **draft**.
2. ` + "`publish_article`" + ` with ` + "`publishAt`" + ` moves the article to **scheduled**. Nothing is
   sent to the CMS until the time comes. Scheduling again replaces the time.
3. ` + "`publish_article`" + ` without ` + "`publishAt`" + ` verifies the CMS credentials, creates a
   **draft post** on the CMS and marks the article **published** with the remote
   post id and edit URL.
4. A published article can never be published or scheduled again.

## Errors

Failures are reported as ` + "`kind: message (hint: ...)`" + `. Common kinds:

- ` + "`not_configured`" + `: CMS URL, username or application password is missing.
- ` + "`invalid_credentials`" + `: the CMS rejected the username or password.
- ` + "`host_unreachable`" + `: the URL is wrong or missing https://.
- ` + "`invalid_transition`" + `: the article is already published.
`
