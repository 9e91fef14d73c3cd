package mcpserver

// PageFormatContract describes the wiki pages and chapters produced by a sync.
const PageFormatContract = `# tubestack Page Format

Every synced video becomes exactly one BookStack page.

## Placement

- A video that belongs to a playlist is placed in the chapter named after the
  playlist. The chapter description is ` + "`Videos from YouTube playlist: <title>`" + `.
- A video that belongs to no playlist is placed at the book root.
- A video that belongs to several playlists gets a single page, in the first
  playlist that lists it.

## Page name

The trimmed video title. With ` + "`sync.append_video_id`" + ` enabled the name is
` + "`<title> (YouTube ID: <id>)`" + `.

## Page body

1. A centered 853x480 iframe embedding ` + "`https://www.youtube.com/embed/<id>`" + `.
2. A "Video Description" block; line breaks become ` + "`<br>`" + `.
3. A "Video Details" list with the watch URL, publish date and channel.

All text is HTML-escaped.

## Identity

The 11-character video ID inside the ` + "`youtube.com/embed/<id>`" + ` URL is the
page's identity. A page whose body embeds a video is never created twice for
that video, whatever its name. Editing the page body so the embed URL is lost
makes the next sync create a new page.

## Tags

Each YouTube tag becomes a page tag with an empty value.
`
